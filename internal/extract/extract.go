// Package extract turns raw RFC 822 payloads into structured ticket
// fields. Parsing is best effort: malformed messages still yield a
// partial result instead of failing the run.
package extract

import (
	"bytes"
	"io"
	"mime"
	stdmail "net/mail"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// Per-part buffering limits. Bodies and attachments are read into
// memory, so both are capped; oversized parts are truncated rather than
// failing the message.
const (
	maxBodyBytes              = 256 * 1024
	defaultAttachmentMaxBytes = 25 * 1024 * 1024
)

// ParseOption customizes parsing behavior.
type ParseOption func(*parseConfig)

type parseConfig struct {
	attachmentMaxBytes int64
}

// WithAttachmentLimit overrides the maximum attachment bytes buffered
// per part.
func WithAttachmentLimit(limit int64) ParseOption {
	return func(c *parseConfig) {
		if limit > 0 {
			c.attachmentMaxBytes = limit
		}
	}
}

// AttachmentPart is one non-text part extracted from a message.
type AttachmentPart struct {
	// Filename is the decoded original filename, sanitized of
	// path-unsafe characters. Never empty.
	Filename string

	// ContentType is the declared MIME type of the part.
	ContentType string

	// Data is the decoded payload.
	Data []byte
}

// Extracted holds the structured fields parsed out of one message.
// Fields that could not be decoded are left empty.
type Extracted struct {
	// Sender is the irreducible address from the From header.
	Sender string

	// SenderName is the From display name, when present.
	SenderName string

	// Subject is the MIME-decoded subject.
	Subject string

	// TextBody is the first text/plain part, preferred as the body.
	TextBody string

	// HTMLBody is the first text/html part.
	HTMLBody string

	// MessageID is the normalized Message-Id header value.
	MessageID string

	// Date is the parsed Date header; zero when absent or unparsable.
	Date time.Time

	// Attachments are the non-text parts, in message order.
	Attachments []AttachmentPart
}

// Body returns the preferred body text: plain when available, HTML
// otherwise.
func (e *Extracted) Body() string {
	if e.TextBody != "" {
		return e.TextBody
	}
	return e.HTMLBody
}

var wordDecoder = &mime.WordDecoder{}

// Parse extracts structured fields from a raw message. It tries the
// structured go-message reader first, falls back to net/mail for
// messages the structured parser rejects, and finally treats the whole
// payload as a plain-text body.
func Parse(raw []byte, opts ...ParseOption) *Extracted {
	cfg := &parseConfig{attachmentMaxBytes: defaultAttachmentMaxBytes}
	for _, opt := range opts {
		opt(cfg)
	}

	ext := &Extracted{}
	if len(raw) == 0 {
		return ext
	}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return parseLegacy(raw)
	}
	defer mr.Close()

	fillHeader(ext, &mr.Header)
	readParts(ext, mr, cfg)

	if ext.TextBody == "" && ext.HTMLBody == "" && len(ext.Attachments) == 0 {
		// Structured parsing yielded nothing usable; the legacy parser
		// may still salvage a body.
		if legacy := parseLegacy(raw); legacy.Body() != "" {
			legacy.mergeHeaderFrom(ext)
			return legacy
		}
	}
	return ext
}

// mergeHeaderFrom keeps already-decoded header fields when falling back
// to the legacy body parser.
func (e *Extracted) mergeHeaderFrom(other *Extracted) {
	if e.Sender == "" {
		e.Sender = other.Sender
		e.SenderName = other.SenderName
	}
	if e.Subject == "" {
		e.Subject = other.Subject
	}
	if e.MessageID == "" {
		e.MessageID = other.MessageID
	}
	if e.Date.IsZero() {
		e.Date = other.Date
	}
}

func fillHeader(ext *Extracted, header *gomail.Header) {
	if subject, err := header.Subject(); err == nil {
		ext.Subject = strings.TrimSpace(subject)
	} else {
		ext.Subject = decodeHeader(header.Get("Subject"))
	}

	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		ext.Sender = strings.TrimSpace(list[0].Address)
		ext.SenderName = strings.TrimSpace(list[0].Name)
	} else {
		ext.Sender, ext.SenderName = parseAddress(header.Get("From"))
	}

	ext.MessageID = normalizeMessageID(header.Get("Message-Id"))

	if date, err := header.Date(); err == nil {
		ext.Date = date
	}
}

func readParts(ext *Extracted, mr *gomail.Reader, cfg *parseConfig) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, ctErr := h.ContentType()
			if ctErr != nil {
				contentType = "text/plain"
			}
			body, readErr := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if ext.TextBody == "" {
					ext.TextBody = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				if ext.HTMLBody == "" {
					ext.HTMLBody = string(body)
				}
			}

		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, readErr := io.ReadAll(io.LimitReader(part.Body, cfg.attachmentMaxBytes))
			if readErr != nil {
				continue
			}
			ext.Attachments = append(ext.Attachments, AttachmentPart{
				Filename:    SanitizeFilename(filename),
				ContentType: contentType,
				Data:        data,
			})
		}
	}
}

// parseLegacy handles messages the structured parser rejects, reading
// headers with net/mail and keeping the undecoded body as plain text.
func parseLegacy(raw []byte) *Extracted {
	ext := &Extracted{}

	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		// Not even headers parse; keep the whole payload as body so a
		// best-effort ticket can still be produced.
		body, _ := io.ReadAll(io.LimitReader(bytes.NewReader(raw), maxBodyBytes))
		ext.TextBody = string(body)
		return ext
	}

	ext.Subject = decodeHeader(msg.Header.Get("Subject"))
	ext.Sender, ext.SenderName = parseAddress(msg.Header.Get("From"))
	ext.MessageID = normalizeMessageID(msg.Header.Get("Message-Id"))
	if date, err := msg.Header.Date(); err == nil {
		ext.Date = date
	}

	body, err := io.ReadAll(io.LimitReader(msg.Body, maxBodyBytes))
	if err == nil {
		ext.TextBody = string(body)
	}
	return ext
}

func decodeHeader(value string) string {
	if value == "" {
		return ""
	}
	if decoded, err := wordDecoder.DecodeHeader(value); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(value)
}

func parseAddress(value string) (addr, name string) {
	if value == "" {
		return "", ""
	}
	parsed, err := stdmail.ParseAddress(decodeHeader(value))
	if err != nil {
		return strings.TrimSpace(value), ""
	}
	return strings.TrimSpace(parsed.Address), strings.TrimSpace(parsed.Name)
}

func normalizeMessageID(value string) string {
	return strings.Trim(strings.TrimSpace(value), "<>")
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	collapseWhitespace  = regexp.MustCompile(`\s+`)
)

// SanitizeFilename strips path-unsafe characters, collapses whitespace,
// and clamps overlong names while preserving the extension. Empty or
// fully stripped names become "attachment".
func SanitizeFilename(name string) string {
	name = decodeHeader(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = collapseWhitespace.ReplaceAllString(name, " ")
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return "attachment"
	}
	if len(name) > 150 {
		root, ext := name, ""
		if idx := strings.LastIndex(name, "."); idx > 0 {
			root, ext = name[:idx], name[idx:]
			if len(ext) > 10 {
				ext = ext[:10]
			}
		}
		if len(root) > 140 {
			root = root[:140]
		}
		name = root + ext
	}
	return name
}
