// Package logstream fans out live action transcript lines to in-process
// subscribers and, optionally, to a Valkey mirror.
package logstream

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nebari-dev/prodesk/internal/models"
)

// Subscriber receives the lines of one action in publish order. Nothing is
// dropped: a slow reader only grows its own queue.
type Subscriber struct {
	ch   chan models.LogEntry
	quit chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []models.LogEntry
	closed bool
	gone   bool
}

func newSubscriber() *Subscriber {
	s := &Subscriber{ch: make(chan models.LogEntry), quit: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// C returns the delivery channel. It is closed after the action finished and
// every queued line was received, or after Unsubscribe.
func (s *Subscriber) C() <-chan models.LogEntry { return s.ch }

func (s *Subscriber) push(e models.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gone {
		return
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

// close lets the pump drain what is queued and then close the channel.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Signal()
}

// abandon drops anything queued; the reader is no longer listening. A line
// the pump is already trying to hand over is dropped as well.
func (s *Subscriber) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return
	}
	s.gone = true
	s.queue = nil
	close(s.quit)
	s.cond.Signal()
}

func (s *Subscriber) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed && !s.gone {
			s.cond.Wait()
		}
		if s.gone || (s.closed && len(s.queue) == 0) {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- e:
		case <-s.quit:
			return
		}
	}
}

// Broker manages live transcript streams for actions
type Broker struct {
	subscribers map[uuid.UUID]map[*Subscriber]bool // actionID -> set of subscribers
	mu          sync.RWMutex
}

// NewBroker creates a new broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[uuid.UUID]map[*Subscriber]bool),
	}
}

// Subscribe creates a new subscription for an action's lines
func (b *Broker) Subscribe(actionID uuid.UUID) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscriber()
	if b.subscribers[actionID] == nil {
		b.subscribers[actionID] = make(map[*Subscriber]bool)
	}
	b.subscribers[actionID][sub] = true
	return sub
}

// Unsubscribe removes a subscription. The reader must not expect further
// lines; its channel is closed without draining.
func (b *Broker) Unsubscribe(actionID uuid.UUID, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, exists := b.subscribers[actionID]; exists {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, actionID)
		}
	}
	sub.abandon()
}

// Publish queues a line for every subscriber of an action
func (b *Broker) Publish(actionID uuid.UUID, entry models.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[actionID] {
		sub.push(entry)
	}
}

// Close ends every subscription of an action once its queue is drained
func (b *Broker) Close(actionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers[actionID] {
		sub.close()
	}
	delete(b.subscribers, actionID)
}
