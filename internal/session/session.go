// Package session holds the live view of one open chat: resolved chat, loaded
// history and the broker subscription that keeps it current.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"job-chat-service/internal/broker"
	"job-chat-service/internal/models"
	"job-chat-service/internal/observability"
)

// State is the lifecycle position of a session.
type State int

const (
	Resolving State = iota
	Loading
	Live
	Closed
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Loading:
		return "loading"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned by Open when the session was closed underneath it.
	ErrClosed = errors.New("session closed")
	// ErrAlreadyOpened is returned when Open is called twice.
	ErrAlreadyOpened = errors.New("session already opened")
)

// Resolver finds or creates the chat for a job.
type Resolver interface {
	Resolve(ctx context.Context, jobID, actorID, peerID string) (models.Chat, error)
}

// History reads the stored message log.
type History interface {
	ListMessages(ctx context.Context, chatID int64) ([]models.Message, error)
}

// Manager builds sessions. It keeps no per-session state, so every new session
// rereads the store.
type Manager struct {
	resolver      Resolver
	history       History
	broker        broker.Broker
	log           *slog.Logger
	updatesBuffer int
}

func NewManager(resolver Resolver, history History, b broker.Broker, log *slog.Logger) *Manager {
	return &Manager{resolver: resolver, history: history, broker: b, log: log, updatesBuffer: 64}
}

// NewSession returns a session in the Resolving state. Call Open to activate it
// and Close when the view goes away.
func (m *Manager) NewSession(jobID, actorID, peerID string) *Session {
	return &Session{
		manager: m,
		jobID:   jobID,
		actorID: actorID,
		peerID:  peerID,
		state:   Resolving,
		seen:    make(map[int64]struct{}),
		updates: make(chan models.Message, m.updatesBuffer),
		done:    make(chan struct{}),
		log:     m.log.With("job_id", jobID, "user_id", actorID),
	}
}

// Session is one client's open chat view.
type Session struct {
	manager *Manager
	jobID   string
	actorID string
	peerID  string
	log     *slog.Logger

	mu       sync.Mutex
	state    State
	opened   bool
	chat     models.Chat
	messages []models.Message
	seen     map[int64]struct{}
	sub      *broker.Subscription
	err      error

	updates   chan models.Message
	done      chan struct{}
	closeOnce sync.Once
	pumpWG    sync.WaitGroup
	pumping   bool
}

// Open runs Resolving, Loading and Live. The broker subscription is taken
// before history is read so that nothing appended in between is missed;
// overlap between the two is removed by message id. On any failure the
// session ends Closed and the subscription is released.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.opened = true
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	chat, err := s.manager.resolver.Resolve(ctx, s.jobID, s.actorID, s.peerID)
	if err != nil {
		return s.fail(fmt.Errorf("resolve chat: %w", err))
	}
	if err := s.advance(Loading, func() { s.chat = chat }); err != nil {
		return err
	}

	sub, err := s.manager.broker.Subscribe(ctx, broker.ChannelName(chat.ID))
	if err != nil {
		return s.fail(fmt.Errorf("subscribe: %w", err))
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		sub.Cancel()
		return ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()

	history, err := s.manager.history.ListMessages(ctx, chat.ID)
	if err != nil {
		return s.fail(fmt.Errorf("load history: %w", err))
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	for _, msg := range history {
		s.insertLocked(msg)
	}
	s.state = Live
	s.pumping = true
	s.pumpWG.Add(1)
	s.mu.Unlock()

	observability.IncSessionsActive()
	s.log.Debug("session live", "chat_id", chat.ID, "history", len(history))
	go s.pump(sub)
	return nil
}

// Close ends the session: the subscription is cancelled, Updates is closed and
// later deliveries are ignored. It is safe to call at any point, including
// while Open is still running.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasLive := s.state == Live
		s.state = Closed
		sub := s.sub
		pumping := s.pumping
		s.mu.Unlock()

		close(s.done)
		if sub != nil {
			sub.Cancel()
		}
		if pumping {
			s.pumpWG.Wait()
		} else {
			close(s.updates)
		}
		if wasLive {
			observability.DecSessionsActive()
		}
	})
}

// Reconcile applies a message obtained outside the subscription, such as the
// sender's own post response. It reports whether the message was new.
func (s *Session) Reconcile(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(msg)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that closed the session during Open, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Chat returns the resolved chat. It is zero until Open has resolved it.
func (s *Session) Chat() models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// Messages returns a copy of the view in ascending id order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Updates streams messages added to the view by live events, after dedup.
// It is closed when the session closes.
func (s *Session) Updates() <-chan models.Message { return s.updates }

// pump applies every live event to the view as it arrives. Messages waiting
// for an Updates reader queue in pending, so a slow reader never holds the
// view back.
func (s *Session) pump(sub *broker.Subscription) {
	defer s.pumpWG.Done()
	defer close(s.updates)

	events := sub.Events()
	var pending []models.Message
	for {
		var out chan<- models.Message
		var next models.Message
		if len(pending) > 0 {
			out = s.updates
			next = pending[0]
		} else if events == nil {
			return
		}

		select {
		case <-s.done:
			return
		case out <- next:
			pending = pending[1:]
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if evt.Name != models.EventNewMessage || evt.Message.ChatID != s.chat.ID {
				continue
			}
			s.mu.Lock()
			added := s.applyLocked(evt.Message)
			s.mu.Unlock()
			if added {
				pending = append(pending, evt.Message)
			}
		}
	}
}

func (s *Session) applyLocked(msg models.Message) bool {
	if s.state == Closed {
		return false
	}
	if !s.insertLocked(msg) {
		observability.IncSessionDuplicate()
		return false
	}
	return true
}

// insertLocked keeps messages sorted by id and drops ids already present.
func (s *Session) insertLocked(msg models.Message) bool {
	if _, ok := s.seen[msg.ID]; ok {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	i := sort.Search(len(s.messages), func(i int) bool { return s.messages[i].ID > msg.ID })
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
	return true
}

func (s *Session) advance(next State, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return ErrClosed
	}
	apply()
	s.state = next
	return nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state == Closed && s.err == nil {
		s.mu.Unlock()
		return ErrClosed
	}
	s.err = err
	s.mu.Unlock()
	s.log.Warn("session failed", "error", err)
	s.Close()
	return err
}
