package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ternarybob/formrunner/internal/models"
)

// StreamWriter writes each event as one JSON line. Writes are serialised so lines
// from concurrent workers never interleave.
type StreamWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamWriter creates a writer over w (normally stdout)
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// Publish encodes the event and writes it followed by a newline
func (s *StreamWriter) Publish(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if f, ok := s.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

// Handler adapts the writer to an event service subscription
func (s *StreamWriter) Handler() func(ctx context.Context, event *models.Event) error {
	return s.Publish
}
