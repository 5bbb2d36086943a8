// Package ingest orchestrates the per-message pipeline: deduplicate
// against the seen set, extract ticket fields, resolve the conversation
// to a ticket id, persist the record and its payloads, and finally seal
// the message.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailticket/internal/blob"
	"github.com/nhle/mailticket/internal/extract"
	"github.com/nhle/mailticket/internal/mail"
	"github.com/nhle/mailticket/internal/model"
	"github.com/nhle/mailticket/internal/store"
)

// SeenMarker is the durable set of already-processed message ids.
type SeenMarker interface {
	Has(uid string) bool
	MarkSeen(ctx context.Context, uid string) error
}

// Registry resolves conversation keys to stable ticket ids.
type Registry interface {
	ResolveOrCreate(ctx context.Context, key string) (ticketID string, created bool, err error)
}

// RecordStore persists one processed message atomically.
type RecordStore interface {
	RecordIngest(ctx context.Context, rec store.IngestRecord) error
}

// MemberLookup resolves a sender address to a membership record.
// Returns nil without error when no record matches.
type MemberLookup interface {
	GetMemberByEmail(ctx context.Context, email string) (*model.Member, error)
}

// BlobStore persists attachment payloads and body artifacts.
type BlobStore interface {
	Save(ticketID, filename string, data []byte) (blob.Ref, error)
	ArchiveBody(ticketID, name string, html []byte) (blob.Ref, error)
}

// Pipeline implements mail.Handler. Each message moves through
// seen-check, extraction, ticket resolution, persistence, and sealing;
// a failure anywhere leaves the message unsealed so the next cycle
// retries it, without blocking the rest of the batch.
type Pipeline struct {
	seen     SeenMarker
	registry Registry
	records  RecordStore
	members  MemberLookup
	blobs    BlobStore
	bounce   extract.BounceDetector
	logger   *slog.Logger
	now      func() time.Time
}

// PipelineOption customizes pipeline behavior.
type PipelineOption func(*Pipeline)

// WithBounceDetector overrides the bounce rule set.
func WithBounceDetector(d extract.BounceDetector) PipelineOption {
	return func(p *Pipeline) {
		if d != nil {
			p.bounce = d
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline wires the pipeline's collaborators together.
func NewPipeline(
	seen SeenMarker,
	registry Registry,
	records RecordStore,
	members MemberLookup,
	blobs BlobStore,
	logger *slog.Logger,
	opts ...PipelineOption,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		seen:     seen,
		registry: registry,
		records:  records,
		members:  members,
		blobs:    blobs,
		bounce:   extract.DefaultBounceDetector(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one fetched message. Returning nil means the message
// is sealed and the fetcher may remove it from the server; failures
// return an error wrapping mail.ErrRetainMessage so the fetcher keeps
// the message for the next cycle and moves on.
func (p *Pipeline) Handle(ctx context.Context, msg *mail.FetchedMessage) error {
	if p.seen.Has(msg.UID) {
		// Sealed on an earlier cycle; nothing to do. Returning nil
		// lets the fetcher finish a previously failed server delete.
		p.logger.Debug("message already seen", "uid", msg.UID)
		return nil
	}

	ext := extract.Parse(msg.Raw)
	bounced := p.bounce.IsBounce(ext)

	key := ConversationKey(ext.Subject, ext.Sender, msg.UID)
	ticketID, created, err := p.registry.ResolveOrCreate(ctx, key)
	if err != nil {
		return p.retain(msg.UID, "resolving ticket", err)
	}

	member, err := p.members.GetMemberByEmail(ctx, ext.Sender)
	if err != nil {
		return p.retain(msg.UID, "looking up member", err)
	}

	// Payloads are written before the ticket record is committed so a
	// committed row never references missing bytes.
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	attachments := make([]model.AttachmentRef, 0, len(ext.Attachments))
	for _, part := range ext.Attachments {
		ref, err := p.blobs.Save(ticketID, part.Filename, part.Data)
		if err != nil {
			return p.retain(msg.UID, "saving attachment", err)
		}
		attachments = append(attachments, model.AttachmentRef{
			TicketID:    ticketID,
			MessageUID:  msg.UID,
			Filename:    part.Filename,
			StoredPath:  ref.Path,
			ContentType: part.ContentType,
			Size:        ref.Size,
			CreatedAt:   receivedAt,
		})
	}

	bodyRef, err := p.blobs.ArchiveBody(ticketID, "body-"+msg.UID, renderBodyHTML(ext, member))
	if err != nil {
		return p.retain(msg.UID, "archiving body", err)
	}

	rec := p.buildRecord(msg, ext, member, ticketID, key, bodyRef, attachments, bounced, receivedAt)
	if err := p.records.RecordIngest(ctx, rec); err != nil {
		return p.retain(msg.UID, "persisting ticket", err)
	}

	if err := p.seen.MarkSeen(ctx, msg.UID); err != nil {
		// Not sealed: the next cycle reprocesses the message and the
		// record store upserts resume instead of duplicating.
		return p.retain(msg.UID, "marking seen", err)
	}

	action := "follow_up"
	if created {
		action = "new_ticket"
	}
	p.logger.Info("message ingested",
		"uid", msg.UID,
		"ticket_id", ticketID,
		"action", action,
		"sender", ext.Sender,
		"attachments", len(attachments),
		"undelivered", bounced,
	)
	return nil
}

func (p *Pipeline) buildRecord(
	msg *mail.FetchedMessage,
	ext *extract.Extracted,
	member *model.Member,
	ticketID, key string,
	bodyRef blob.Ref,
	attachments []model.AttachmentRef,
	bounced bool,
	receivedAt time.Time,
) store.IngestRecord {
	now := p.now()

	delivery := model.DeliveryNormal
	if bounced {
		delivery = model.DeliveryUndelivered
	}

	ticket := model.Ticket{
		ID:              ticketID,
		ConversationKey: key,
		Subject:         ext.Subject,
		RequesterEmail:  ext.Sender,
		RequesterName:   ext.SenderName,
		Status:          model.TicketStatusOpen,
		Delivery:        delivery,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if member != nil {
		ticket.MemberNumber = member.Number
		ticket.MemberTier = member.Tier
	}

	rec := store.IngestRecord{
		Ticket: ticket,
		Event: model.TicketEvent{
			ID:         uuid.New().String(),
			TicketID:   ticketID,
			MessageUID: msg.UID,
			Sender:     ext.Sender,
			Subject:    ext.Subject,
			Body:       ext.Body(),
			BodyPath:   bodyRef.Path,
			Delivery:   delivery,
			ReceivedAt: receivedAt,
		},
		Attachments: attachments,
	}
	if bounced {
		rec.Notice = &model.UndeliveredNotice{
			MessageUID: msg.UID,
			Sender:     ext.Sender,
			Reason:     "undelivered mail / returned to sender",
			ReceivedAt: receivedAt,
		}
	}
	return rec
}

// retain logs a per-message failure and converts it into a
// retain-for-next-cycle signal for the fetcher.
func (p *Pipeline) retain(uid, doing string, err error) error {
	p.logger.Error("message processing failed",
		"uid", uid, "stage", doing, "error", err)
	return fmt.Errorf("%s for %s: %v: %w", doing, uid, err, mail.ErrRetainMessage)
}
