package broker

import "sync"

// Subscription is a live, non-restartable stream of events for one channel.
// Deliveries go into an unbounded FIFO mailbox drained by a dedicated
// goroutine, so publishers never wait on a slow reader.
type Subscription struct {
	channel string

	mu     sync.Mutex
	queue  []Event
	closed bool

	notify   chan struct{}
	done     chan struct{}
	events   chan Event
	once     sync.Once
	onCancel func()
}

func newSubscription(channel string, onCancel func()) *Subscription {
	s := &Subscription{
		channel:  channel,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		events:   make(chan Event),
		onCancel: onCancel,
	}
	go s.pump()
	return s
}

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string { return s.channel }

// Events yields events in publish order. It is closed after Cancel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops delivery and releases broker-side resources. Safe to call more
// than once and from any goroutine.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

// deliver is a no-op once the subscription is cancelled.
func (s *Subscription) deliver(evt Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}
