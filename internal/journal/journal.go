// Package journal keeps an append-only record of relay cycles as JSON lines,
// one object per cycle, for reviewing latency and failures after a session.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/pipeline"
)

// Record is a single journal entry.
type Record struct {
	Timestamp  time.Time        `json:"timestamp"`
	Cycle      uint64           `json:"cycle"`
	Outcome    pipeline.Outcome `json:"outcome"`
	Error      string           `json:"error,omitempty"`
	UtteranceS float64          `json:"utterance_s"`
	SpeechS    float64          `json:"speech_s"`
	Transcript string           `json:"transcript,omitempty"`
	Reply      string           `json:"reply,omitempty"`
	ReplySeq   uint64           `json:"reply_seq,omitempty"`
	Source     string           `json:"source,omitempty"`

	// StagesMS maps stage name to duration in milliseconds.
	StagesMS map[string]int64 `json:"stages_ms,omitempty"`
}

// NewRecord converts a cycle report into a journal entry stamped with now.
func NewRecord(r pipeline.CycleReport, now time.Time) Record {
	rec := Record{
		Timestamp:  now.UTC(),
		Cycle:      r.Cycle,
		Outcome:    r.Outcome,
		UtteranceS: r.Utterance.Seconds(),
		SpeechS:    r.Speech.Seconds(),
		Transcript: r.Transcript,
		Reply:      r.Reply,
		ReplySeq:   uint64(r.ReplySeq),
		Source:     string(r.Source),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	if len(r.Stages) > 0 {
		rec.StagesMS = make(map[string]int64, len(r.Stages))
		for k, d := range r.Stages {
			rec.StagesMS[k] = d.Milliseconds()
		}
	}
	return rec
}

// FileJournal appends records to a local file. Safe for concurrent use.
type FileJournal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileJournal creates a FileJournal that writes to path. The file is
// created on first write.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path, now: time.Now}
}

// Append writes one record for r.
func (j *FileJournal) Append(r pipeline.CycleReport) error {
	data, err := json.Marshal(NewRecord(r, j.now()))
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}
