package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdentityRegistry durably maps conversation keys to ticket ids so
// every message of a conversation resolves to the same ticket. The full
// mapping is loaded into memory at startup; the create path uses an
// atomic insert-if-absent so two processes racing on the same unseen
// key can never mint two ticket ids.
type IdentityRegistry struct {
	store *SQLiteStore
	keys  map[string]string
}

// LoadIdentityRegistry reads the full conversation mapping from the
// database.
func (s *SQLiteStore) LoadIdentityRegistry(ctx context.Context) (*IdentityRegistry, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT conversation_key, ticket_id FROM conversations")
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var key, ticketID string
		if err := rows.Scan(&key, &ticketID); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		keys[key] = ticketID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}
	return &IdentityRegistry{store: s, keys: keys}, nil
}

// ResolveOrCreate returns the ticket id assigned to the conversation
// key, minting and durably registering a new one when the key is
// unseen. The returned flag reports whether a new id was created.
func (r *IdentityRegistry) ResolveOrCreate(ctx context.Context, key string) (string, bool, error) {
	if ticketID, ok := r.keys[key]; ok {
		return ticketID, false, nil
	}

	candidate := uuid.New().String()
	res, err := r.store.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_key, ticket_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_key) DO NOTHING`,
		key, candidate, time.Now().UTC(),
	)
	if err != nil {
		return "", false, fmt.Errorf("registering conversation: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("registering conversation: %w", err)
	}
	if inserted == 1 {
		r.keys[key] = candidate
		return candidate, true, nil
	}

	// Another instance won the insert race; read its assignment.
	var ticketID string
	err = r.store.db.GetContext(ctx, &ticketID,
		"SELECT ticket_id FROM conversations WHERE conversation_key = ?", key)
	if err != nil {
		return "", false, fmt.Errorf("resolving conversation: %w", err)
	}
	r.keys[key] = ticketID
	return ticketID, false, nil
}

// Len returns the number of registered conversations.
func (r *IdentityRegistry) Len() int {
	return len(r.keys)
}
