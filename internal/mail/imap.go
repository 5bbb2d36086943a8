package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	Expunge() expungeWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type expungeWaiter interface{ Close() error }

type imapClientFactory func(Account) (imapClient, error)

// IMAPFetcher streams IMAP/IMAPS mailboxes into the ingestion pipeline.
// Unique ids are "<uidvalidity>:<uid>" so a mailbox reset cannot alias
// old messages onto previously sealed ids.
type IMAPFetcher struct {
	dialTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	skip        SkipFunc
	newClient   imapClientFactory
}

// IMAPOption customizes fetcher behavior.
type IMAPOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP connector ready for cycle polling.
func NewIMAPFetcher(opts ...IMAPOption) *IMAPFetcher {
	f := &IMAPFetcher{
		dialTimeout: 10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	f.newClient = f.defaultClientFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newClient == nil {
		f.newClient = f.defaultClientFactory
	}
	return f
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *slog.Logger) IMAPOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithIMAPSkip installs a predicate that suppresses downloading of
// messages whose unique id is already sealed.
func WithIMAPSkip(skip SkipFunc) IMAPOption {
	return func(f *IMAPFetcher) {
		f.skip = skip
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withIMAPClientFactory(factory imapClientFactory) IMAPOption {
	return func(f *IMAPFetcher) {
		f.newClient = factory
	}
}

// Name returns the connector identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// imapUniqueID combines the mailbox UIDVALIDITY with a message UID into
// the stable unique id the seen set is keyed by.
func imapUniqueID(uidValidity uint32, uid imap.UID) string {
	return fmt.Sprintf("%d:%d", uidValidity, uid)
}

// Fetch selects the configured folder, searches for candidate messages,
// and hands each one to the handler in UID order (oldest first). Sealed
// messages are flagged \Deleted and expunged when the account deletes
// after fetch, otherwise flagged \Seen.
func (f *IMAPFetcher) Fetch(ctx context.Context, account Account, handler Handler) error {
	if handler == nil {
		return errors.New("imap fetcher requires a handler")
	}
	if err := validateIMAPAccount(account); err != nil {
		return err
	}

	client, err := f.newClient(account)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		return &AuthError{
			Account: account.Username,
			Message: fmt.Sprintf("imap login: %v", err),
		}
	}

	folder := account.Folder
	if folder == "" {
		folder = "INBOX"
	}
	selectData, err := client.Select(folder, nil).Wait()
	if err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	uidValidity := selectData.UIDValidity

	criteria := &imap.SearchCriteria{}
	if account.WindowDays > 0 {
		criteria.Since = f.now().AddDate(0, 0, -account.WindowDays)
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}
	slices.Sort(uids)

	var sealed []imap.UID
	for _, uid := range uids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		uniqueID := imapUniqueID(uidValidity, uid)
		if f.skip != nil && f.skip(uniqueID) {
			continue
		}

		raw, err := f.fetchRaw(client, uid)
		if err != nil {
			return fmt.Errorf("imap fetch uid %d: %w", uid, err)
		}
		if raw == nil {
			// Message vanished between search and fetch.
			continue
		}

		msg := &FetchedMessage{
			UID:        uniqueID,
			Connector:  f.Name(),
			ReceivedAt: f.now(),
			SizeBytes:  int64(len(raw)),
			Raw:        raw,
		}

		if err := handler.Handle(ctx, msg); err != nil {
			if errors.Is(err, ErrRetainMessage) {
				f.logger.Warn("message retained for next cycle",
					"uid", uniqueID, "error", err)
				continue
			}
			return fmt.Errorf("handler failed for %s: %w", uniqueID, err)
		}
		sealed = append(sealed, uid)
	}

	if len(sealed) == 0 {
		return nil
	}
	return f.finishSealed(client, account, sealed)
}

// fetchRaw retrieves the full RFC 822 payload for one UID without
// setting the \Seen flag.
func (f *IMAPFetcher) fetchRaw(client imapClient, uid imap.UID) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := client.Fetch(imap.UIDSetNum(uid), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}
	if len(buffers) == 0 {
		return nil, nil
	}
	raw := buffers[0].FindBodySection(bodySection)
	if raw == nil {
		return nil, errors.New("server returned no body section")
	}
	return append([]byte(nil), raw...), nil
}

// finishSealed flags the sealed messages \Deleted and expunges them, or
// just marks them \Seen when the account keeps messages on the server.
func (f *IMAPFetcher) finishSealed(client imapClient, account Account, sealed []imap.UID) error {
	uidSet := imap.UIDSetNum(sealed...)

	flag := imap.FlagSeen
	if account.DeleteAfterFetch {
		flag = imap.FlagDeleted
	}
	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		// Sealed already; the seen set keeps a redelivery from
		// producing a second ticket.
		f.logger.Warn("imap store flags failed", "error", err)
		return nil
	}

	if account.DeleteAfterFetch {
		if err := client.Expunge().Close(); err != nil {
			f.logger.Warn("imap expunge failed", "error", err)
		}
	}
	return nil
}

func (f *IMAPFetcher) defaultClientFactory(account Account) (imapClient, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.Port
	if port == 0 {
		if useIMAPTLS(account.Type) {
			port = 993
		} else {
			port = 143
		}
	}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}

	var client *imapclient.Client
	var err error
	if useIMAPTLS(account.Type) {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}

func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }

func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}

func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}

func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}

func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

func (w *imapClientWrapper) Expunge() expungeWaiter { return w.Client.Expunge() }

func validateIMAPAccount(account Account) error {
	if account.Username == "" {
		return errors.New("imap account missing username")
	}
	if account.Password == "" {
		return errors.New("imap account missing password")
	}
	if !supportsIMAP(account.Type) {
		return fmt.Errorf("account type %s not supported by IMAP connector", account.Type)
	}
	return nil
}

func supportsIMAP(t string) bool {
	switch strings.ToLower(t) {
	case "imap", "imaps":
		return true
	default:
		return false
	}
}

func useIMAPTLS(t string) bool {
	return strings.EqualFold(t, "imaps")
}
