package mail

import (
	"fmt"
	"log/slog"
)

// NewFetcher resolves the connector implementation for a mailbox
// account type.
func NewFetcher(account Account, logger *slog.Logger, skip SkipFunc) (Fetcher, error) {
	switch {
	case supportsPOP3(account.Type):
		return NewPOP3Fetcher(
			WithPOP3Logger(logger),
			WithPOP3Skip(skip),
		), nil
	case supportsIMAP(account.Type):
		return NewIMAPFetcher(
			WithIMAPLogger(logger),
			WithIMAPSkip(skip),
		), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox type %q", account.Type)
	}
}
