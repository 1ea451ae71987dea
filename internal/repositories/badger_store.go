package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"job-chat-service/internal/models"
)

const sequenceBandwidth = 100

// BadgerStore implements ChatRepository and MessageRepository on an embedded
// badger database.
//
// Keys:
//
//	chat:{chat_id}                      -> models.Chat (json)
//	job:{job_id}                        -> chat id
//	msg:{chat_id 20d}:{message_id 20d}  -> models.Message (json)
//
// Zero padding keeps a prefix scan in id order. A single mutex serializes
// writers, which makes id and timestamp assignment linearizable.
type BadgerStore struct {
	db      *badger.DB
	log     *slog.Logger
	chatSeq *badger.Sequence
	msgSeq  *badger.Sequence
	mu      sync.Mutex
	now     func() time.Time
}

// OpenBadgerStore opens (or creates) the store at path. An empty path opens an
// in-memory database.
func OpenBadgerStore(path string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	chatSeq, err := db.GetSequence([]byte("seq:chat"), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chat sequence: %w", err)
	}
	msgSeq, err := db.GetSequence([]byte("seq:msg"), sequenceBandwidth)
	if err != nil {
		_ = chatSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerStore{db: db, log: log, chatSeq: chatSeq, msgSeq: msgSeq, now: time.Now}, nil
}

// Close releases the sequences and closes the database.
func (s *BadgerStore) Close() error {
	_ = s.chatSeq.Release()
	_ = s.msgSeq.Release()
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

// CreateChat returns the chat for jobID, creating it when the job has none yet.
func (s *BadgerStore) CreateChat(_ context.Context, jobID, participantA, participantB string) (models.Chat, error) {
	if err := validateChatInput(jobID, participantA, participantB); err != nil {
		return models.Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var chat models.Chat
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := chatByJob(txn, jobID)
		if err == nil {
			if !existing.HasPair(participantA, participantB) {
				return fmt.Errorf("job %s: %w", jobID, ErrParticipantMismatch)
			}
			chat = existing
			return nil
		}
		if !errors.Is(err, ErrChatNotFound) {
			return err
		}

		id, err := nextID(s.chatSeq)
		if err != nil {
			return err
		}
		chat = models.Chat{
			ID:           id,
			JobID:        jobID,
			ParticipantA: participantA,
			ParticipantB: participantB,
			CreatedAt:    s.now().UTC(),
		}
		if err := setJSON(txn, chatKey(id), chat); err != nil {
			return err
		}
		return txn.Set(jobKey(jobID), []byte(strconv.FormatInt(id, 10)))
	})
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// FindChatByJob fetches the chat attached to a job.
func (s *BadgerStore) FindChatByJob(_ context.Context, jobID string) (models.Chat, error) {
	var chat models.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = chatByJob(txn, jobID)
		return err
	})
	return chat, err
}

// GetChat fetches a chat by id.
func (s *BadgerStore) GetChat(_ context.Context, chatID int64) (models.Chat, error) {
	var chat models.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = chatByID(txn, chatID)
		return err
	})
	return chat, err
}

// AppendMessage stores a message at the tail of the chat's log.
func (s *BadgerStore) AppendMessage(_ context.Context, chatID int64, senderID, receiverID, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, fmt.Errorf("empty content: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var msg models.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		chat, err := chatByID(txn, chatID)
		if err != nil {
			return err
		}
		if err := validateMessageInput(chat, senderID, receiverID, content); err != nil {
			return err
		}

		sentAt := s.now().UTC()
		last, ok, err := lastMessage(txn, chatID)
		if err != nil {
			return err
		}
		if ok && sentAt.Before(last.SentAt) {
			sentAt = last.SentAt
		}

		id, err := nextID(s.msgSeq)
		if err != nil {
			return err
		}
		msg = models.Message{
			ID:         id,
			ChatID:     chatID,
			SenderID:   senderID,
			ReceiverID: receiverID,
			Content:    content,
			SentAt:     sentAt,
		}
		return setJSON(txn, messageKey(chatID, id), msg)
	})
	if err != nil {
		return models.Message{}, err
	}
	s.log.Debug("message appended", "chat_id", chatID, "message_id", msg.ID)
	return msg, nil
}

// ListMessages returns the chat's messages in send order.
func (s *BadgerStore) ListMessages(_ context.Context, chatID int64) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := chatByID(txn, chatID); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messagePrefix(chatID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var msg models.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func chatByJob(txn *badger.Txn, jobID string) (models.Chat, error) {
	item, err := txn.Get(jobKey(jobID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return models.Chat{}, err
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return models.Chat{}, fmt.Errorf("corrupt job index for %s: %w", jobID, err)
	}
	return chatByID(txn, id)
}

func chatByID(txn *badger.Txn, chatID int64) (models.Chat, error) {
	var chat models.Chat
	item, err := txn.Get(chatKey(chatID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &chat)
	})
	return chat, err
}

func lastMessage(txn *badger.Txn, chatID int64) (models.Message, bool, error) {
	prefix := messagePrefix(chatID)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, prefix...), 0xFF))
	if !it.ValidForPrefix(prefix) {
		return models.Message{}, false, nil
	}
	var msg models.Message
	err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	return msg, err == nil, err
}

// nextID turns the zero-based badger sequence into positive ids.
func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, body)
}

func chatKey(id int64) []byte { return []byte(fmt.Sprintf("chat:%d", id)) }

func jobKey(jobID string) []byte { return []byte("job:" + jobID) }

func messagePrefix(chatID int64) []byte { return []byte(fmt.Sprintf("msg:%020d:", chatID)) }

func messageKey(chatID, id int64) []byte {
	return []byte(fmt.Sprintf("msg:%020d:%020d", chatID, id))
}
