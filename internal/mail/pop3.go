package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/go-pop3"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
}

type pop3ConnFactory func(Account) (pop3Connection, error)

// POP3Fetcher streams POP3/POP3S mailboxes into the ingestion pipeline.
// Messages are presented oldest first, in server listing order.
type POP3Fetcher struct {
	dialTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	skip        SkipFunc
	newConn     pop3ConnFactory
}

// POP3Option customizes fetcher behavior.
type POP3Option func(*POP3Fetcher)

// NewPOP3Fetcher returns a POP3 connector ready for cycle polling.
func NewPOP3Fetcher(opts ...POP3Option) *POP3Fetcher {
	f := &POP3Fetcher{
		dialTimeout: 10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	f.newConn = f.defaultConnFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newConn == nil {
		f.newConn = f.defaultConnFactory
	}
	return f
}

// WithPOP3Logger overrides the logger used for connector diagnostics.
func WithPOP3Logger(logger *slog.Logger) POP3Option {
	return func(f *POP3Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3Option {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithPOP3Skip installs a predicate that suppresses downloading of
// messages whose unique id is already sealed.
func WithPOP3Skip(skip SkipFunc) POP3Option {
	return func(f *POP3Fetcher) {
		f.skip = skip
	}
}

// WithPOP3Clock overrides the wall clock, primarily for tests.
func WithPOP3Clock(now func() time.Time) POP3Option {
	return func(f *POP3Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3Option {
	return func(f *POP3Fetcher) {
		f.newConn = factory
	}
}

// Name returns the connector identifier.
func (f *POP3Fetcher) Name() string {
	return "pop3"
}

// Fetch lists the mailbox via UIDL and hands each message to the
// handler, oldest first. A sealed message (handler returned nil) is
// deleted from the server when the account asks for it; a retained
// message stays for the next cycle. Transport errors abort the cycle.
func (f *POP3Fetcher) Fetch(ctx context.Context, account Account, handler Handler) error {
	if handler == nil {
		return errors.New("pop3 fetcher requires a handler")
	}
	if err := validatePOP3Account(account); err != nil {
		return err
	}

	conn, err := f.newConn(account)
	if err != nil {
		return fmt.Errorf("pop3 connect: %w", err)
	}
	defer f.safeQuit(conn)

	if err := conn.Auth(account.Username, account.Password); err != nil {
		return &AuthError{
			Account: account.Username,
			Message: fmt.Sprintf("pop3 auth: %v", err),
		}
	}

	msgs, err := conn.Uidl(0)
	if err != nil {
		return fmt.Errorf("pop3 uidl: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	for _, meta := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		uid := meta.UID
		if uid == "" {
			uid = strconv.Itoa(meta.ID)
		}
		if f.skip != nil && f.skip(uid) {
			continue
		}

		payload, err := conn.RetrRaw(meta.ID)
		if err != nil {
			return fmt.Errorf("pop3 retr %d: %w", meta.ID, err)
		}

		raw := append([]byte(nil), payload.Bytes()...)
		msg := &FetchedMessage{
			UID:        uid,
			Connector:  f.Name(),
			ReceivedAt: f.now(),
			SizeBytes:  int64(len(raw)),
			Raw:        raw,
		}

		if err := handler.Handle(ctx, msg); err != nil {
			if errors.Is(err, ErrRetainMessage) {
				f.logger.Warn("message retained for next cycle",
					"uid", uid, "error", err)
				continue
			}
			return fmt.Errorf("handler failed for %s: %w", uid, err)
		}
		if account.DeleteAfterFetch {
			if err := conn.Dele(meta.ID); err != nil {
				// The message is already sealed; the seen set keeps a
				// redelivery from producing a second ticket.
				f.logger.Warn("pop3 delete failed", "uid", uid, "error", err)
			}
		}
	}

	return nil
}

func (f *POP3Fetcher) safeQuit(conn pop3Connection) {
	if conn == nil {
		return
	}
	if err := conn.Quit(); err != nil {
		f.logger.Warn("pop3 quit failed", "error", err)
	}
}

func (f *POP3Fetcher) defaultConnFactory(account Account) (pop3Connection, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	port := account.Port
	if port == 0 {
		if usePOP3TLS(account.Type) {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		DialTimeout: f.dialTimeout,
		TLSEnabled:  usePOP3TLS(account.Type),
	})
	return client.NewConn()
}

func validatePOP3Account(account Account) error {
	if account.Username == "" {
		return errors.New("pop3 account missing username")
	}
	if account.Password == "" {
		return errors.New("pop3 account missing password")
	}
	if !supportsPOP3(account.Type) {
		return fmt.Errorf("account type %s not supported by POP3 connector", account.Type)
	}
	return nil
}

func supportsPOP3(t string) bool {
	switch strings.ToLower(t) {
	case "pop3", "pop3s":
		return true
	default:
		return false
	}
}

func usePOP3TLS(t string) bool {
	return strings.EqualFold(t, "pop3s")
}
