package store

import (
	"context"
	"fmt"
	"time"
)

// SeenSet is the durable set of message unique ids already processed.
// The full set is loaded into memory at startup; every MarkSeen is
// flushed to the database before it returns, so a crash can only lose
// the marker for a message that was never sealed (and will simply be
// reprocessed).
type SeenSet struct {
	store *SQLiteStore
	ids   map[string]struct{}
}

// LoadSeenSet reads all seen markers from the database.
func (s *SQLiteStore) LoadSeenSet(ctx context.Context) (*SeenSet, error) {
	var uids []string
	if err := s.db.SelectContext(ctx, &uids, "SELECT uid FROM seen_messages"); err != nil {
		return nil, fmt.Errorf("loading seen messages: %w", err)
	}

	ids := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		ids[uid] = struct{}{}
	}
	return &SeenSet{store: s, ids: ids}, nil
}

// Has reports whether the unique id was already processed. Answered
// from memory.
func (ss *SeenSet) Has(uid string) bool {
	_, ok := ss.ids[uid]
	return ok
}

// MarkSeen durably records the unique id as processed. Idempotent:
// marking an already-seen id is a no-op. Entries are never removed
// outside a deliberate reset.
func (ss *SeenSet) MarkSeen(ctx context.Context, uid string) error {
	if _, ok := ss.ids[uid]; ok {
		return nil
	}
	_, err := ss.store.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen_messages (uid, seen_at) VALUES (?, ?)",
		uid, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking message %s seen: %w", uid, err)
	}
	ss.ids[uid] = struct{}{}
	return nil
}

// Len returns the number of seen markers.
func (ss *SeenSet) Len() int {
	return len(ss.ids)
}
