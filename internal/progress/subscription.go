package progress

import (
	"sync"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

// Subscription is one listener's view of a document's events. The Events
// channel is closed after the terminal event or when Close is called.
type Subscription struct {
	documentID string
	owner      *Broadcaster

	mu      sync.Mutex
	ch      chan models.ProgressEvent
	closed  bool
	dropped int
}

func newSubscription(owner *Broadcaster, documentID string, size int) *Subscription {
	return &Subscription{
		documentID: documentID,
		owner:      owner,
		ch:         make(chan models.ProgressEvent, size),
	}
}

// Events returns the event stream.
func (s *Subscription) Events() <-chan models.ProgressEvent {
	return s.ch
}

// DocumentID returns the document this subscription listens to.
func (s *Subscription) DocumentID() string {
	return s.documentID
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the subscription. It does not affect other subscribers or the
// run being observed. Safe to call more than once.
func (s *Subscription) Close() {
	if s.owner != nil {
		s.owner.remove(s)
	}
	s.closeChannel()
}

// deliver enqueues ev, dropping the oldest unread event when full.
func (s *Subscription) deliver(ev models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

func (s *Subscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
