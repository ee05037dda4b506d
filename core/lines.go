package orchestration

// Fixed lines spoken by the companion outside of reasoner replies.
const (
	LineWelcome          = "Hello, I am Baymax, your personal healthcare companion."
	LineCannotDeactivate = "I cannot deactivate until you say 'you are satisfied with my care'."
	LineSatisfied        = "Thank you. I am grateful that you are satisfied with my care. Entering sleep mode."
	LineIdleNudge        = "I'm here if you need me."
	LineIdleFarewell     = "Let me know if you need me."
	LineNothingHeard     = "I didn't catch that."
	LineReasonerFault    = "I am here to help you. How are you feeling?"
	LineReasonerOffline  = "I'm here, but my LLM brain is offline."
	LineEmptyReply       = "Okay."
)
