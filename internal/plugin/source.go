package plugin

import (
	"sync"

	"github.com/jbaubree/villus/internal/operation"
)

// Observer receives the three message kinds of a result stream. Any field
// may be nil.
type Observer struct {
	Next     func(*operation.Result)
	Error    func(error)
	Complete func()
}

// Unsubscriber cancels a subscription. Implementations must be idempotent.
type Unsubscriber func()

// Source is a push-based result stream. Multiple concurrent observers are
// not required; each Source instance serves one subscriber.
type Source interface {
	Subscribe(Observer) Unsubscriber
}

// PushSource is a single-subscriber Source driven by its producer.
// Cancellation is cooperative: an unsubscribed or completed source drops
// subsequent emissions before delivery. Delivery order matches production
// order.
type PushSource struct {
	mu       sync.Mutex
	observer *Observer
	done     bool
	onCancel func()
}

// NewPushSource creates a source. onCancel, when non-nil, runs once when the
// subscriber unsubscribes; producers use it to tear down the transport.
func NewPushSource(onCancel func()) *PushSource {
	return &PushSource{onCancel: onCancel}
}

// Subscribe attaches the observer. Unsubscribing is idempotent and prevents
// any further deliveries.
func (s *PushSource) Subscribe(o Observer) Unsubscriber {
	s.mu.Lock()
	s.observer = &o
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.observer = nil
			cancel := s.onCancel
			s.onCancel = nil
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		})
	}
}

// Next delivers a value to the current observer, if any.
func (s *PushSource) Next(res *operation.Result) {
	s.mu.Lock()
	obs, done := s.observer, s.done
	s.mu.Unlock()
	if done || obs == nil || obs.Next == nil {
		return
	}
	obs.Next(res)
}

// Fail delivers a stream error. The stream is not terminated: a failed
// message does not close the source unless the producer completes it.
func (s *PushSource) Fail(err error) {
	s.mu.Lock()
	obs, done := s.observer, s.done
	s.mu.Unlock()
	if done || obs == nil || obs.Error == nil {
		return
	}
	obs.Error(err)
}

// Complete closes the stream. Further emissions are dropped.
func (s *PushSource) Complete() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	obs := s.observer
	s.observer = nil
	s.mu.Unlock()
	if obs != nil && obs.Complete != nil {
		obs.Complete()
	}
}
