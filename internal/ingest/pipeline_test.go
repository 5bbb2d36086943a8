package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailticket/internal/blob"
	"github.com/nhle/mailticket/internal/ingest"
	"github.com/nhle/mailticket/internal/mail"
	"github.com/nhle/mailticket/internal/model"
	"github.com/nhle/mailticket/internal/store"
	"github.com/nhle/mailticket/tests/testutil"
)

type pipelineEnv struct {
	store    *store.SQLiteStore
	seen     *store.SeenSet
	registry *store.IdentityRegistry
	blobs    *blob.FSStore
	blobRoot string
	pipeline *ingest.Pipeline
}

func newPipelineEnv(t *testing.T, opts ...ingest.PipelineOption) *pipelineEnv {
	t.Helper()
	ctx := context.Background()

	st := testutil.NewTestStore(t)
	seen, err := st.LoadSeenSet(ctx)
	require.NoError(t, err)
	registry, err := st.LoadIdentityRegistry(ctx)
	require.NoError(t, err)

	root := t.TempDir()
	blobs, err := blob.NewFSStore(root)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &pipelineEnv{
		store:    st,
		seen:     seen,
		registry: registry,
		blobs:    blobs,
		blobRoot: root,
		pipeline: ingest.NewPipeline(seen, registry, st, st, blobs, logger, opts...),
	}
}

func rawMessage(from, subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: support@example.com\r\nSubject: %s\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, subject, body))
}

func fetched(uid string, raw []byte) *mail.FetchedMessage {
	return &mail.FetchedMessage{
		UID:        uid,
		Connector:  "pop3",
		ReceivedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		SizeBytes:  int64(len(raw)),
		Raw:        raw,
	}
}

func TestPipelineCreatesTicket(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	raw := rawMessage("Alice Example <alice@example.com>", "Login broken", "I cannot log in.")
	require.NoError(t, env.pipeline.Handle(ctx, fetched("uid-1", raw)))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, int64(1), tickets[0].Number)
	require.Equal(t, "Login broken", tickets[0].Subject)
	require.Equal(t, "alice@example.com", tickets[0].RequesterEmail)
	require.Equal(t, "Alice Example", tickets[0].RequesterName)
	require.Equal(t, model.DeliveryNormal, tickets[0].Delivery)
	require.Equal(t, 1, tickets[0].EventCount)

	events, err := env.store.GetEvents(ctx, tickets[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Contains(t, events[0].Body, "cannot log in")

	// The archived body artifact exists where the event points.
	archived, err := os.ReadFile(filepath.Join(env.blobRoot, events[0].BodyPath))
	require.NoError(t, err)
	require.Contains(t, string(archived), "cannot log in")

	require.True(t, env.seen.Has("uid-1"))
}

func TestPipelineGroupsRepliesIntoOneTicket(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	first := rawMessage("alice@example.com", "Help: login broken", "It fails.")
	reply := rawMessage("alice@example.com", "Re: Help: login broken", "Still fails.")
	require.NoError(t, env.pipeline.Handle(ctx, fetched("uid-1", first)))
	require.NoError(t, env.pipeline.Handle(ctx, fetched("uid-2", reply)))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, 2, tickets[0].EventCount)

	events, err := env.store.GetEvents(ctx, tickets[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestPipelineSeparatesSendersWithSameSubject(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	require.NoError(t, env.pipeline.Handle(ctx,
		fetched("uid-1", rawMessage("alice@example.com", "Help", "a"))))
	require.NoError(t, env.pipeline.Handle(ctx,
		fetched("uid-2", rawMessage("bob@example.com", "Help", "b"))))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
}

func TestPipelineSeenMessageIsNoOp(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	require.NoError(t, env.seen.MarkSeen(ctx, "uid-1"))
	raw := rawMessage("alice@example.com", "Login broken", "again")
	require.NoError(t, env.pipeline.Handle(ctx, fetched("uid-1", raw)))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Empty(t, tickets)
}

func TestPipelineSavesAttachments(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	raw := []byte("From: bob@example.com\r\n" +
		"Subject: Invoice attached\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attachment.\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--BOUNDARY--\r\n")
	require.NoError(t, env.pipeline.Handle(ctx, fetched("uid-1", raw)))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	refs, err := env.store.GetAttachmentRefs(ctx, tickets[0].ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "invoice.pdf", refs[0].Filename)

	payload, err := os.ReadFile(filepath.Join(env.blobRoot, refs[0].StoredPath))
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4"), payload)
}

func TestPipelineFlagsBounces(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	raw := rawMessage("MAILER-DAEMON@mx.example.com",
		"Undelivered Mail Returned to Sender", "The address was not found.")
	require.NoError(t, env.pipeline.Handle(ctx, fetched("uid-1", raw)))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, model.DeliveryUndelivered, tickets[0].Delivery)

	notices, err := env.store.GetUndeliveredNotices(ctx)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	require.Equal(t, "uid-1", notices[0].MessageUID)
}

func TestPipelineEnrichesKnownMembers(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertMember(ctx, model.Member{
		Number:    "M-1001",
		Email:     "alice@example.com",
		Title:     "Ms",
		FirstName: "Alice",
		LastName:  "Example",
		Tier:      "gold",
	}))

	raw := rawMessage("alice@example.com", "Login broken", "help")
	require.NoError(t, env.pipeline.Handle(ctx, fetched("uid-1", raw)))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, "M-1001", tickets[0].MemberNumber)
	require.Equal(t, "gold", tickets[0].MemberTier)

	events, err := env.store.GetEvents(ctx, tickets[0].ID)
	require.NoError(t, err)
	archived, err := os.ReadFile(filepath.Join(env.blobRoot, events[0].BodyPath))
	require.NoError(t, err)
	require.Contains(t, string(archived), "M-1001")
	require.Contains(t, string(archived), "Membership Information")
}

func TestPipelineRetainsOnStorageFailureThenResumes(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	flaky := &flakyBlobs{FSStore: env.blobs, failSaves: true}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := ingest.NewPipeline(env.seen, env.registry, env.store, env.store, flaky, logger)

	raw := []byte("From: bob@example.com\r\n" +
		"Subject: Invoice attached\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attachment.\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"data.bin\"\r\n" +
		"\r\n" +
		"abc\r\n" +
		"--BOUNDARY--\r\n")

	err := failing.Handle(ctx, fetched("uid-1", raw))
	require.Error(t, err)
	require.True(t, errors.Is(err, mail.ErrRetainMessage))
	require.False(t, env.seen.Has("uid-1"))

	// Next cycle: storage recovered, same message retried.
	flaky.failSaves = false
	require.NoError(t, failing.Handle(ctx, fetched("uid-1", raw)))
	require.True(t, env.seen.Has("uid-1"))

	tickets, err := env.store.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, 1, tickets[0].EventCount)
}

type flakyBlobs struct {
	*blob.FSStore
	failSaves bool
}

func (f *flakyBlobs) Save(ticketID, filename string, data []byte) (blob.Ref, error) {
	if f.failSaves {
		return blob.Ref{}, errors.New("disk full")
	}
	return f.FSStore.Save(ticketID, filename, data)
}
