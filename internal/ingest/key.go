package ingest

import (
	"regexp"
	"strings"
)

// Reply and forward prefixes stripped during subject normalization,
// including the common localized variants.
var replyPrefixes = []string{"re:", "fw:", "fwd:", "aw:", "wg:", "antw:", "sv:"}

var keyWhitespace = regexp.MustCompile(`\s+`)

// NormalizeSubject lower-cases the subject, strips reply/forward
// prefixes repeatedly, and collapses whitespace, so that an original
// message and its replies normalize identically.
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		stripped := false
		for _, prefix := range replyPrefixes {
			if strings.HasPrefix(s, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return keyWhitespace.ReplaceAllString(s, " ")
}

// ConversationKey derives the deterministic key that groups a message
// with the rest of its conversation: the normalized subject joined with
// the lower-cased sender address. Messages with an empty subject fall
// back to their unique id so unrelated empty-subject mail never merges.
//
// This normalization is a fixed contract: changing it after deployment
// would fragment existing conversations into new tickets.
func ConversationKey(subject, sender, uniqueID string) string {
	subj := NormalizeSubject(subject)
	if subj == "" {
		subj = strings.ToLower(strings.TrimSpace(uniqueID))
	}
	addr := strings.ToLower(strings.TrimSpace(sender))
	return subj + "|" + addr
}
