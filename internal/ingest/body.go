package ingest

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nhle/mailticket/internal/extract"
	"github.com/nhle/mailticket/internal/model"
)

var closingBodyTag = regexp.MustCompile(`(?i)</body\s*>`)

// renderBodyHTML builds the archived HTML body artifact for a message:
// the HTML body when the message carried one, the escaped plain text in
// a <pre> block otherwise, with a membership block appended so agents
// see the requester's member record next to the request.
func renderBodyHTML(ext *extract.Extracted, member *model.Member) []byte {
	var content string
	switch {
	case ext.HTMLBody != "":
		content = ext.HTMLBody
	case ext.TextBody != "":
		content = fmt.Sprintf("<html><body><pre>%s</pre></body></html>",
			html.EscapeString(ext.TextBody))
	default:
		content = "<html><body><pre>(No message content)</pre></body></html>"
	}

	block := membershipBlock(member)
	if loc := closingBodyTag.FindStringIndex(content); loc != nil {
		content = content[:loc[0]] + block + content[loc[0]:]
	} else {
		content += block
	}
	return []byte(content)
}

func membershipBlock(member *model.Member) string {
	var b strings.Builder
	b.WriteString("<hr><div><strong>Membership Information</strong></div>")
	if member == nil {
		b.WriteString("<p>No member record found for this sender.</p>")
		return b.String()
	}
	b.WriteString("<ul>")
	fmt.Fprintf(&b, "<li><strong>Member number:</strong> %s</li>", html.EscapeString(member.Number))
	fmt.Fprintf(&b, "<li><strong>Title:</strong> %s</li>", html.EscapeString(member.Title))
	fmt.Fprintf(&b, "<li><strong>First name:</strong> %s</li>", html.EscapeString(member.FirstName))
	fmt.Fprintf(&b, "<li><strong>Last name:</strong> %s</li>", html.EscapeString(member.LastName))
	fmt.Fprintf(&b, "<li><strong>Tier:</strong> %s</li>", html.EscapeString(member.Tier))
	b.WriteString("</ul>")
	return b.String()
}
