package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
)

type subscription struct {
	name    string
	handler interfaces.EventHandler
}

// Service fans every published event out to its subscribers. Delivery is
// synchronous and in subscription order, so each subscriber sees events in the
// order they were published.
type Service struct {
	mu          sync.RWMutex
	publishMu   sync.Mutex
	subscribers []subscription
	logger      arbor.ILogger
}

var _ interfaces.EventPublisher = (*Service)(nil)

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
	}
}

// Subscribe registers a named handler
func (s *Service) Subscribe(name string, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscribers {
		if sub.name == name {
			return fmt.Errorf("subscriber %s already registered", name)
		}
	}
	s.subscribers = append(s.subscribers, subscription{name: name, handler: handler})

	s.logger.Debug().
		Str("subscriber", name).
		Int("subscriber_count", len(s.subscribers)).
		Msg("Event handler subscribed")

	return nil
}

// Unsubscribe removes a named handler
func (s *Service) Unsubscribe(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub.name == name {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			s.logger.Debug().Str("subscriber", name).Msg("Event handler unsubscribed")
			return nil
		}
	}

	return fmt.Errorf("subscriber not found: %s", name)
}

// Publish delivers the event to every subscriber, deriving a missing PROGRESS
// percentage from current/total first. A failing subscriber does not
// prevent delivery to the others; all failures are returned joined.
func (s *Service) Publish(ctx context.Context, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	event.DerivePercentage()

	s.mu.RLock()
	subscribers := make([]subscription, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	// One event at a time so every subscriber observes the same order
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	var errs []error
	for _, sub := range subscribers {
		if err := sub.handler(ctx, event); err != nil {
			s.logger.Warn().
				Err(err).
				Str("subscriber", sub.name).
				Str("status", event.Status).
				Msg("Event handler failed")
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}

	return errors.Join(errs...)
}

// Close removes every subscriber
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = nil
	s.logger.Debug().Msg("Event service closed")

	return nil
}
