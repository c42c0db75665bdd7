// Package feedback provides a simple storage layer for reviewer feedback on
// cleaned transcripts. Feedback is stored as append-only JSON lines in a
// local file, suitable for a small review team.
//
// For production use, this should be replaced with a PostgreSQL-backed
// implementation.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Feedback is one reviewer's verdict on a cleaned transcript.
type Feedback struct {
	// TranscriptID identifies the reviewed transcript.
	TranscriptID string `json:"transcript_id"`

	// Turn is the turn index the feedback refers to, or -1 for the whole
	// transcript.
	Turn int `json:"turn"`

	// CorrectionAccuracy rates how well self-corrections were resolved,
	// 1 (wrong) to 5 (perfect).
	CorrectionAccuracy int `json:"correction_accuracy"`

	// EntityAccuracy rates the extracted entity spans, 1 to 5.
	EntityAccuracy int `json:"entity_accuracy"`

	// Reviewer identifies who submitted the feedback.
	Reviewer string `json:"reviewer,omitempty"`

	// Comments is free-form reviewer commentary.
	Comments string `json:"comments,omitempty"`
}

// Store persists reviewer feedback.
type Store interface {
	SaveFeedback(fb Feedback) error
}

// Record is a single feedback entry written to the file store.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Feedback
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists feedback as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// SaveFeedback appends a feedback record to the file.
func (fs *FileStore) SaveFeedback(fb Feedback) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	record := Record{
		Timestamp: time.Now().UTC(),
		Feedback:  fb,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}
