package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultBounceDetector(t *testing.T) {
	d := DefaultBounceDetector()

	tests := []struct {
		name string
		ext  *Extracted
		want bool
	}{
		{
			"ordinary message",
			&Extracted{Sender: "alice@example.com", Subject: "Login broken", TextBody: "help"},
			false,
		},
		{
			"mailer-daemon sender",
			&Extracted{Sender: "MAILER-DAEMON@mx.example.com", Subject: "anything"},
			true,
		},
		{
			"postmaster sender",
			&Extracted{Sender: "postmaster@example.com", Subject: "anything"},
			true,
		},
		{
			"undelivered in subject",
			&Extracted{Sender: "alice@example.com", Subject: "Undelivered Mail Returned to Sender"},
			true,
		},
		{
			"delivery failure in body",
			&Extracted{Sender: "alice@example.com", Subject: "status", TextBody: "Mail delivery failed: returning message"},
			true,
		},
		{
			"dsn subject",
			&Extracted{Sender: "noreply@example.com", Subject: "Delivery Status Notification (Failure)"},
			true,
		},
		{
			"sender needle only matches prefix",
			&Extracted{Sender: "alice.mailer-daemon.fan@example.com", Subject: "fan mail", TextBody: "hello"},
			false,
		},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, d.IsBounce(tt.ext))
		})
	}
}

func TestRuleDetectorCustomRules(t *testing.T) {
	d := NewRuleDetector(BounceRule{Needle: "quota exceeded"})

	require.True(t, d.IsBounce(&Extracted{Subject: "Quota Exceeded for recipient"}))
	require.False(t, d.IsBounce(&Extracted{Sender: "mailer-daemon@example.com", Subject: "ok"}))
}
