package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailticket/internal/model"
)

// ErrRetainMessage signals that the current message must stay on the
// server for the next cycle. Fetchers skip deletion and continue with
// the next message when a handler returns it (possibly wrapped).
var ErrRetainMessage = errors.New("retain message on server")

// AuthError indicates that the mailbox rejected our credentials.
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Account carries the minimal set of fields a fetcher needs to open a
// mailbox.
type Account struct {
	Type             string // pop3, pop3s, imap, imaps
	Host             string
	Port             int
	Username         string
	Password         string
	Folder           string
	DeleteAfterFetch bool
	WindowDays       int
}

// AccountFromConfig maps the mailbox configuration onto an Account.
func AccountFromConfig(cfg model.MailboxConfig, password string) Account {
	return Account{
		Type:             cfg.Type,
		Host:             cfg.Host,
		Port:             cfg.Port,
		Username:         cfg.Username,
		Password:         password,
		Folder:           cfg.Folder,
		DeleteAfterFetch: cfg.DeleteAfterFetch,
		WindowDays:       cfg.WindowDays,
	}
}

// FetchedMessage wraps the on-wire RFC 822 payload plus the metadata the
// pipeline needs to deduplicate and seal it.
type FetchedMessage struct {
	// UID is the server-assigned unique id: the POP3 UIDL string, or
	// "<uidvalidity>:<uid>" for IMAP. Stable across polls.
	UID string

	// Connector names the fetcher that produced the message.
	Connector string

	// ReceivedAt is when the fetch observed the message.
	ReceivedAt time.Time

	// SizeBytes is the payload size.
	SizeBytes int64

	// Raw is the full message as retrieved from the server.
	Raw []byte
}

// Handler receives fully fetched messages, oldest first. Returning nil
// seals the message: the fetcher is then free to delete it from the
// server. Returning ErrRetainMessage (wrapped or not) leaves it on the
// server and continues the cycle; any other error aborts the cycle.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// SkipFunc lets a fetcher avoid downloading messages the pipeline has
// already sealed. Purely an optimization: the handler re-checks.
type SkipFunc func(uid string) bool

// Fetcher implementations (POP3, IMAP) stream a mailbox's messages to a
// handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) error
}
