// Package events defines the values exchanged between recognizer goroutines
// and the companion control loop.
//
//   - WakeDirective (control.wake_directive): wake, sleep, satisfied or
//     forced-sleep intent detected in a final transcript.
//   - TranscriptRecord (user_input.transcript_record): interim or final
//     utterance text with its eligibility flag.
//
// Both kinds carry the time they were produced. Values are immutable once
// created.
package events
