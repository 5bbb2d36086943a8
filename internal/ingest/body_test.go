package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailticket/internal/extract"
	"github.com/nhle/mailticket/internal/model"
)

func TestRenderBodyHTMLEscapesPlainText(t *testing.T) {
	ext := &extract.Extracted{TextBody: "a < b & c"}
	out := string(renderBodyHTML(ext, nil))

	require.Contains(t, out, "<pre>a &lt; b &amp; c</pre>")
	require.Contains(t, out, "No member record found")
}

func TestRenderBodyHTMLInjectsBlockBeforeClosingBody(t *testing.T) {
	ext := &extract.Extracted{HTMLBody: "<html><body><p>hi</p></body></html>"}
	member := &model.Member{Number: "M-1001", FirstName: "Alice", Tier: "gold"}
	out := string(renderBodyHTML(ext, member))

	require.Contains(t, out, "M-1001")
	require.Less(t, strings.Index(out, "Membership Information"), strings.Index(out, "</body>"))
}

func TestRenderBodyHTMLAppendsWhenNoClosingTag(t *testing.T) {
	ext := &extract.Extracted{HTMLBody: "<p>fragment without body tag</p>"}
	out := string(renderBodyHTML(ext, nil))

	require.True(t, strings.HasPrefix(out, "<p>fragment without body tag</p>"))
	require.Contains(t, out, "Membership Information")
}

func TestRenderBodyHTMLEmptyMessage(t *testing.T) {
	out := string(renderBodyHTML(&extract.Extracted{}, nil))
	require.Contains(t, out, "(No message content)")
}
