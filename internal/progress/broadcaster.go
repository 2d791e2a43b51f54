// Package progress fans out pipeline stage events to live listeners of a
// document.
package progress

import (
	"sync"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

const (
	DefaultQueueSize   = 16
	DefaultTerminalCap = 1024
)

// Broadcaster is a per-document publish/subscribe registry. Publish never
// blocks: every subscriber has a bounded queue and the oldest unread event
// is dropped when it is full. A terminal event closes every subscription of
// its document and is remembered so late subscribers still see it.
type Broadcaster struct {
	mu          sync.Mutex
	queueSize   int
	live        map[string]map[*Subscription]struct{}
	terminal    map[string]models.ProgressEvent
	order       []string // terminal ids, oldest first
	terminalCap int
}

// New creates a broadcaster. queueSize bounds each subscriber's backlog.
func New(queueSize int) *Broadcaster {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		queueSize:   queueSize,
		live:        make(map[string]map[*Subscription]struct{}),
		terminal:    make(map[string]models.ProgressEvent),
		terminalCap: DefaultTerminalCap,
	}
}

// Register marks documentID as having an active run. Any terminal event
// remembered from a previous run is discarded.
func (b *Broadcaster) Register(documentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.live[documentID]; !ok {
		b.live[documentID] = make(map[*Subscription]struct{})
	}
	b.forgetTerminalLocked(documentID)
}

// Subscribe starts listening to documentID. For a document whose run ended
// the subscription holds only the terminal event and is already closed; for
// an unknown document it is empty and closed.
func (b *Broadcaster) Subscribe(documentID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.live[documentID]; ok {
		s := newSubscription(b, documentID, b.queueSize)
		subs[s] = struct{}{}
		return s
	}

	s := newSubscription(nil, documentID, 1)
	if ev, ok := b.terminal[documentID]; ok {
		s.ch <- ev
	}
	s.closeChannel()
	return s
}

// Publish delivers ev to every current subscriber of its document. Events
// for documents without a registered run are dropped.
func (b *Broadcaster) Publish(ev models.ProgressEvent) {
	b.mu.Lock()
	subs, ok := b.live[ev.DocumentID]
	if !ok {
		b.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	if ev.Terminal() {
		delete(b.live, ev.DocumentID)
		b.rememberTerminalLocked(ev)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
		if ev.Terminal() {
			s.closeChannel()
		}
	}
}

// Forget drops all state for documentID and closes its subscriptions.
func (b *Broadcaster) Forget(documentID string) {
	b.mu.Lock()
	subs := b.live[documentID]
	delete(b.live, documentID)
	b.forgetTerminalLocked(documentID)
	b.mu.Unlock()

	for s := range subs {
		s.closeChannel()
	}
}

// Live reports whether documentID has a registered run.
func (b *Broadcaster) Live(documentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.live[documentID]
	return ok
}

// SubscriberCount returns the number of open subscriptions for documentID.
func (b *Broadcaster) SubscriberCount(documentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live[documentID])
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.live[s.documentID]; ok {
		delete(subs, s)
	}
}

// Must be called with lock held
func (b *Broadcaster) rememberTerminalLocked(ev models.ProgressEvent) {
	if _, ok := b.terminal[ev.DocumentID]; !ok {
		b.order = append(b.order, ev.DocumentID)
	}
	b.terminal[ev.DocumentID] = ev
	for len(b.order) > b.terminalCap {
		delete(b.terminal, b.order[0])
		b.order = b.order[1:]
	}
}

// Must be called with lock held
func (b *Broadcaster) forgetTerminalLocked(documentID string) {
	if _, ok := b.terminal[documentID]; !ok {
		return
	}
	delete(b.terminal, documentID)
	for i, id := range b.order {
		if id == documentID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
