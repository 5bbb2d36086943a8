package model

import "time"

// DeliveryStatus classifies how a message reached the mailbox.
type DeliveryStatus string

const (
	// DeliveryNormal marks an ordinary inbound message.
	DeliveryNormal DeliveryStatus = "normal"

	// DeliveryUndelivered marks a bounce / failure notification produced
	// by a mailer daemon for a prior outbound message.
	DeliveryUndelivered DeliveryStatus = "undelivered"
)

// Ticket statuses. New tickets open; consumers of the table own the rest
// of the lifecycle.
const (
	TicketStatusOpen = "open"
)

// Ticket is the durable record representing one support conversation.
// It is created exactly once per conversation key and updated in place
// when follow-up messages arrive.
type Ticket struct {
	// ID is the stable unique identifier generated when the
	// conversation is first seen.
	ID string `json:"id" db:"id"`

	// Number is the sequential human-facing ticket number assigned by
	// the record store on first insert.
	Number int64 `json:"number" db:"number"`

	// ConversationKey is the normalized key that groups the original
	// message and its replies under this ticket.
	ConversationKey string `json:"conversation_key" db:"conversation_key"`

	// Subject is the decoded subject of the first message.
	Subject string `json:"subject" db:"subject"`

	// RequesterEmail is the irreducible address of the sender.
	RequesterEmail string `json:"requester_email" db:"requester_email"`

	// RequesterName is the sender display name, when present.
	RequesterName string `json:"requester_name" db:"requester_name"`

	// MemberNumber is the membership reference resolved from the
	// sender address, empty when no member record matches.
	MemberNumber string `json:"member_number" db:"member_number"`

	// MemberTier is the membership tier of the matched member.
	MemberTier string `json:"member_tier" db:"member_tier"`

	// Status is the ticket lifecycle status (use TicketStatus* constants).
	Status string `json:"status" db:"status"`

	// Delivery distinguishes ordinary mail from bounce notifications.
	Delivery DeliveryStatus `json:"delivery" db:"delivery"`

	// EventCount is the number of messages recorded on this ticket.
	EventCount int `json:"event_count" db:"event_count"`

	// CreatedAt is when the ticket was first created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is when the last message was recorded.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TicketEvent is one message recorded against a ticket: the initial
// message or a follow-up in the same conversation.
type TicketEvent struct {
	// ID is the unique identifier of this event.
	ID string `json:"id" db:"id"`

	// TicketID links the event to its owning ticket.
	TicketID string `json:"ticket_id" db:"ticket_id"`

	// MessageUID is the server-assigned unique id of the source
	// message. At most one event exists per (ticket, message uid).
	MessageUID string `json:"message_uid" db:"message_uid"`

	// Sender is the address the message came from.
	Sender string `json:"sender" db:"sender"`

	// Subject is the decoded subject of this specific message.
	Subject string `json:"subject" db:"subject"`

	// Body is the extracted text body, best effort.
	Body string `json:"body" db:"body"`

	// BodyPath is the archived HTML body artifact location, relative
	// to the attachment root.
	BodyPath string `json:"body_path" db:"body_path"`

	// Delivery distinguishes ordinary mail from bounce notifications.
	Delivery DeliveryStatus `json:"delivery" db:"delivery"`

	// ReceivedAt is when the message was fetched from the server.
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// AttachmentRef points at one stored attachment payload.
type AttachmentRef struct {
	// ID is the row identifier.
	ID int64 `json:"id" db:"id"`

	// TicketID is the owning ticket.
	TicketID string `json:"ticket_id" db:"ticket_id"`

	// MessageUID is the message the attachment arrived on.
	MessageUID string `json:"message_uid" db:"message_uid"`

	// Filename is the original (decoded) attachment filename.
	Filename string `json:"filename" db:"filename"`

	// StoredPath is the location of the payload relative to the
	// attachment root. Paths are unique per (ticket, filename) pair.
	StoredPath string `json:"stored_path" db:"stored_path"`

	// ContentType is the declared MIME type of the part.
	ContentType string `json:"content_type" db:"content_type"`

	// Size is the payload size in bytes.
	Size int64 `json:"size" db:"size"`

	// CreatedAt is when the payload was written.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Member is a membership record used to enrich the requester identity.
type Member struct {
	// Number is the membership number.
	Number string `json:"number" db:"number"`

	// Email is the address the member registered with.
	Email string `json:"email" db:"email"`

	// Title is the salutation on record.
	Title string `json:"title" db:"title"`

	// FirstName is the member's given name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the member's family name.
	LastName string `json:"last_name" db:"last_name"`

	// Tier is the membership tier code.
	Tier string `json:"tier" db:"tier"`
}

// UndeliveredNotice records one bounce notification observed in the
// mailbox, alongside the flagged ticket it produced.
type UndeliveredNotice struct {
	// ID is the row identifier.
	ID int64 `json:"id" db:"id"`

	// MessageUID is the unique id of the bounce message; at most one
	// notice is recorded per message.
	MessageUID string `json:"message_uid" db:"message_uid"`

	// Sender is the bounce sender, typically a mailer daemon.
	Sender string `json:"sender" db:"sender"`

	// Reason is a short classification of the bounce.
	Reason string `json:"reason" db:"reason"`

	// ReceivedAt is when the notice was fetched.
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}
