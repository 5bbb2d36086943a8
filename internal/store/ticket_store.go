package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/mailticket/internal/model"
)

// Column widths kept for compatibility with downstream consumers of
// the ticket table.
const (
	maxSubjectLen = 1600
	maxAddressLen = 200
	maxNameLen    = 100
	maxReasonLen  = 200
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// IngestRecord is everything one processed message persists in a single
// transaction: the ticket row (created or touched), the event, the
// attachment references, and an optional undelivered notice.
type IngestRecord struct {
	Ticket      model.Ticket
	Event       model.TicketEvent
	Attachments []model.AttachmentRef
	Notice      *model.UndeliveredNotice
}

// RecordIngest persists one processed message atomically. The ticket
// row is inserted on first contact (receiving the next sequential
// ticket number) or touched on follow-ups; the event and attachment
// references upsert on their natural keys so a retried message resumes
// instead of duplicating.
func (s *SQLiteStore) RecordIngest(ctx context.Context, rec IngestRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	t := rec.Ticket
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (
			id, number, conversation_key, subject,
			requester_email, requester_name, member_number, member_tier,
			status, delivery, event_count, created_at, updated_at
		) VALUES (
			?, (SELECT COALESCE(MAX(number), 0) + 1 FROM tickets), ?, ?,
			?, ?, ?, ?,
			?, ?, 0, ?, ?
		)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		t.ID, t.ConversationKey, clamp(t.Subject, maxSubjectLen),
		clamp(t.RequesterEmail, maxAddressLen), clamp(t.RequesterName, maxNameLen),
		t.MemberNumber, t.MemberTier,
		t.Status, string(t.Delivery), t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting ticket %s: %w", t.ID, err)
	}

	e := rec.Event
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ticket_events (
			id, ticket_id, message_uid, sender, subject,
			body, body_path, delivery, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticket_id, message_uid) DO UPDATE SET
			sender = excluded.sender,
			subject = excluded.subject,
			body = excluded.body,
			body_path = excluded.body_path,
			delivery = excluded.delivery,
			received_at = excluded.received_at`,
		e.ID, e.TicketID, e.MessageUID,
		clamp(e.Sender, maxAddressLen), clamp(e.Subject, maxSubjectLen),
		e.Body, e.BodyPath, string(e.Delivery), e.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording event for ticket %s: %w", e.TicketID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tickets SET event_count =
			(SELECT COUNT(*) FROM ticket_events WHERE ticket_id = ?)
		WHERE id = ?`,
		t.ID, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating event count for ticket %s: %w", t.ID, err)
	}

	for _, a := range rec.Attachments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachment_refs (
				ticket_id, message_uid, filename,
				stored_path, content_type, size, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticket_id, message_uid, filename) DO UPDATE SET
				stored_path = excluded.stored_path,
				content_type = excluded.content_type,
				size = excluded.size`,
			a.TicketID, a.MessageUID, a.Filename,
			a.StoredPath, a.ContentType, a.Size, a.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("recording attachment %s: %w", a.Filename, err)
		}
	}

	if n := rec.Notice; n != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO undelivered_notices (message_uid, sender, reason, received_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_uid) DO NOTHING`,
			n.MessageUID, clamp(n.Sender, maxAddressLen),
			clamp(n.Reason, maxReasonLen), n.ReceivedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("recording undelivered notice: %w", err)
		}
	}

	return tx.Commit()
}

// GetTicketByID retrieves a single ticket by its id.
func (s *SQLiteStore) GetTicketByID(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	err := s.db.GetContext(ctx, &t, "SELECT * FROM tickets WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting ticket %s: %w", id, err)
	}
	return &t, nil
}

// GetTickets retrieves all tickets ordered by most recent activity.
func (s *SQLiteStore) GetTickets(ctx context.Context) ([]model.Ticket, error) {
	var tickets []model.Ticket
	err := s.db.SelectContext(ctx, &tickets,
		"SELECT * FROM tickets ORDER BY updated_at DESC, number DESC")
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	return tickets, nil
}

// GetEvents retrieves the events recorded on a ticket, oldest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, ticketID string) ([]model.TicketEvent, error) {
	var events []model.TicketEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM ticket_events WHERE ticket_id = ? ORDER BY received_at, id",
		ticketID)
	if err != nil {
		return nil, fmt.Errorf("querying events for ticket %s: %w", ticketID, err)
	}
	return events, nil
}

// GetAttachmentRefs retrieves the attachment references on a ticket.
func (s *SQLiteStore) GetAttachmentRefs(ctx context.Context, ticketID string) ([]model.AttachmentRef, error) {
	var refs []model.AttachmentRef
	err := s.db.SelectContext(ctx, &refs,
		"SELECT * FROM attachment_refs WHERE ticket_id = ? ORDER BY id",
		ticketID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments for ticket %s: %w", ticketID, err)
	}
	return refs, nil
}

// GetUndeliveredNotices retrieves recorded bounce notices, newest first.
func (s *SQLiteStore) GetUndeliveredNotices(ctx context.Context) ([]model.UndeliveredNotice, error) {
	var notices []model.UndeliveredNotice
	err := s.db.SelectContext(ctx, &notices,
		"SELECT * FROM undelivered_notices ORDER BY received_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("querying undelivered notices: %w", err)
	}
	return notices, nil
}
