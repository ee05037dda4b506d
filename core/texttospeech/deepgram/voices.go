package deepgram

type deepgramVoice string

const (
	VoiceAsteria deepgramVoice = "aura-asteria-en"
	VoiceLuna    deepgramVoice = "aura-luna-en"
	VoiceStella  deepgramVoice = "aura-stella-en"
	VoiceAthena  deepgramVoice = "aura-athena-en"
	VoiceHera    deepgramVoice = "aura-hera-en"
	VoiceOrion   deepgramVoice = "aura-orion-en"
	VoiceArcas   deepgramVoice = "aura-arcas-en"
	VoicePerseus deepgramVoice = "aura-perseus-en"
	VoiceAngus   deepgramVoice = "aura-angus-en"
	VoiceOrpheus deepgramVoice = "aura-orpheus-en"
	VoiceHelios  deepgramVoice = "aura-helios-en"
	VoiceZeus    deepgramVoice = "aura-zeus-en"

	defaultVoice = VoiceOrion
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{
		VoiceAsteria, VoiceLuna, VoiceStella, VoiceAthena, VoiceHera, VoiceOrion,
		VoiceArcas, VoicePerseus, VoiceAngus, VoiceOrpheus, VoiceHelios, VoiceZeus,
	}
}

// ParseVoice accepts a model name such as "aura-orion-en". An empty name
// selects the default voice.
func ParseVoice(name string) (deepgramVoice, bool) {
	if name == "" {
		return defaultVoice, true
	}
	for _, voice := range GetAvailableVoices() {
		if string(voice) == name {
			return voice, true
		}
	}
	return "", false
}
