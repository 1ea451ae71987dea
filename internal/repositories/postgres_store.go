package repositories

import "github.com/jmoiron/sqlx"

// PostgresStore is the full message store backed by one sqlx pool.
type PostgresStore struct {
	*ChatRepo
	*MessageRepo
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{ChatRepo: NewChatRepo(db), MessageRepo: NewMessageRepo(db)}
}
