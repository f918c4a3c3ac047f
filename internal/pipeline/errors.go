package pipeline

import "errors"

// Stage failures. ErrCapture is fatal and returned by [Controller.Run]; the
// others end one cycle and are reported through [CycleReport.Err].
var (
	ErrCapture       = errors.New("pipeline: capture failed")
	ErrTranscription = errors.New("pipeline: transcription failed")
	ErrSend          = errors.New("pipeline: send failed")
	ErrReplyTimeout  = errors.New("pipeline: no reply within timeout")
	ErrPlayback      = errors.New("pipeline: playback failed")
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeEmptyTranscript Outcome = "empty_transcript"
	OutcomeTranscription   Outcome = "transcription_error"
	OutcomeSend            Outcome = "send_error"
	OutcomeReplyTimeout    Outcome = "reply_timeout"
	OutcomePlayback        Outcome = "playback_error"
	OutcomeCancelled       Outcome = "cancelled"
)
