package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/mailticket/internal/model"
)

// GetMemberByEmail looks up a membership record by email address,
// case-insensitively. Returns nil (no error) when no record matches:
// unknown senders are an expected case, not a failure.
func (s *SQLiteStore) GetMemberByEmail(ctx context.Context, email string) (*model.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}

	var m model.Member
	err := s.db.GetContext(ctx, &m,
		"SELECT * FROM members WHERE email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting member by email: %w", err)
	}
	return &m, nil
}

// UpsertMember inserts or updates a membership record keyed by member
// number. Email addresses are stored lower-cased.
func (s *SQLiteStore) UpsertMember(ctx context.Context, m model.Member) error {
	if strings.TrimSpace(m.Number) == "" {
		return errors.New("member number must not be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (number, email, title, first_name, last_name, tier)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			email = excluded.email,
			title = excluded.title,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			tier = excluded.tier`,
		m.Number, strings.ToLower(strings.TrimSpace(m.Email)),
		m.Title, m.FirstName, m.LastName, m.Tier,
	)
	if err != nil {
		return fmt.Errorf("upserting member %s: %w", m.Number, err)
	}
	return nil
}

// ResetIngestState truncates the seen-message set and the conversation
// identity registry. This is a deliberate, destructive reset: every
// message still on the server will be treated as new afterwards.
func (s *SQLiteStore) ResetIngestState(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM seen_messages"); err != nil {
		return fmt.Errorf("clearing seen messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}
	return tx.Commit()
}
