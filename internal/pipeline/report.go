package pipeline

import (
	"time"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/internal/playback"
)

// CycleReport summarises one pass through the pipeline.
type CycleReport struct {
	// Cycle numbers cycles from 1.
	Cycle uint64

	// Outcome is how the cycle ended.
	Outcome Outcome

	// Err wraps one of the stage sentinels when Outcome is a failure.
	Err error

	// Utterance is the length of the captured audio; Speech is the part of
	// it classified as speech.
	Utterance time.Duration
	Speech    time.Duration

	// Transcript is the recognised text.
	Transcript string

	// SentSeq is the sequence number of the posted transcript.
	SentSeq channel.Seq

	// Reply and ReplySeq describe the agent message, if one arrived.
	Reply    string
	ReplySeq channel.Seq

	// Source is where the played audio came from.
	Source playback.Source

	// Stages holds the duration of every stage that ran, keyed by stage
	// name (see the observe.Stage* constants).
	Stages map[string]time.Duration
}

func (r *CycleReport) setStage(name string, d time.Duration) {
	if r.Stages == nil {
		r.Stages = make(map[string]time.Duration, 4)
	}
	r.Stages[name] = d
}
