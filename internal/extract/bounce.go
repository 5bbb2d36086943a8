package extract

import "strings"

// BounceDetector decides whether a message is an undelivered/bounce
// notification. Implementations inspect the already-extracted fields;
// new match rules are added as data without touching extraction logic.
type BounceDetector interface {
	IsBounce(ext *Extracted) bool
}

// BounceRule matches one bounce signal.
type BounceRule struct {
	// SenderPrefix matches the local part of the sender address,
	// case-insensitively (e.g. "mailer-daemon@").
	SenderPrefix string

	// Needle matches as a case-insensitive substring of the subject
	// or body.
	Needle string
}

// RuleDetector is a BounceDetector backed by an explicit rule list.
type RuleDetector struct {
	rules []BounceRule
}

// NewRuleDetector builds a detector from the given rules.
func NewRuleDetector(rules ...BounceRule) *RuleDetector {
	return &RuleDetector{rules: rules}
}

// DefaultBounceDetector returns the stock rule set covering common
// mailer-daemon senders and delivery-failure phrasings.
func DefaultBounceDetector() *RuleDetector {
	return NewRuleDetector(
		BounceRule{SenderPrefix: "mailer-daemon@"},
		BounceRule{SenderPrefix: "postmaster@"},
		BounceRule{Needle: "undelivered"},
		BounceRule{Needle: "return to sender"},
		BounceRule{Needle: "mail delivery failed"},
		BounceRule{Needle: "delivery status notification"},
		BounceRule{Needle: "mailer-daemon"},
		BounceRule{Needle: "bounce"},
	)
}

// IsBounce reports whether any rule matches the message.
func (d *RuleDetector) IsBounce(ext *Extracted) bool {
	if ext == nil {
		return false
	}
	sender := strings.ToLower(ext.Sender)
	subject := strings.ToLower(ext.Subject)
	body := strings.ToLower(ext.Body())

	for _, rule := range d.rules {
		if rule.SenderPrefix != "" && strings.HasPrefix(sender, rule.SenderPrefix) {
			return true
		}
		if rule.Needle != "" &&
			(strings.Contains(subject, rule.Needle) || strings.Contains(body, rule.Needle)) {
			return true
		}
	}
	return false
}
