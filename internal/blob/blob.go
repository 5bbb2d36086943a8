// Package blob persists attachment payloads and archived message
// bodies on the filesystem, one directory per ticket.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nhle/mailticket/internal/extract"
)

// Ref points at one stored payload.
type Ref struct {
	// Filename is the sanitized name the payload was stored under.
	Filename string

	// Path is the storage location relative to the store root.
	Path string

	// Size is the number of bytes written.
	Size int64
}

// FSStore writes payloads beneath a single root directory, keyed by
// ticket id. Attachment writes never overwrite: name collisions within
// a ticket are disambiguated with a numeric suffix, so both payloads
// stay independently retrievable.
type FSStore struct {
	root string
}

// NewFSStore creates the store root if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachment root %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *FSStore) Root() string {
	return s.root
}

// Save writes an attachment payload for a ticket and returns its
// reference. The filename is sanitized; an existing file with the same
// name gets a "-1", "-2", ... suffix before the extension rather than
// being overwritten.
func (s *FSStore) Save(ticketID, filename string, data []byte) (Ref, error) {
	if strings.TrimSpace(ticketID) == "" {
		return Ref{}, errors.New("blob save requires a ticket id")
	}

	dir := filepath.Join(s.root, ticketID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("creating ticket directory %s: %w", dir, err)
	}

	name := extract.SanitizeFilename(filename)
	target, err := availableName(dir, name)
	if err != nil {
		return Ref{}, err
	}

	if err := os.WriteFile(filepath.Join(dir, target), data, 0o644); err != nil {
		return Ref{}, fmt.Errorf("writing attachment %s: %w", target, err)
	}

	return Ref{
		Filename: target,
		Path:     filepath.Join(ticketID, target),
		Size:     int64(len(data)),
	}, nil
}

// ArchiveBody writes the rendered HTML body artifact for one message.
// Unlike Save, the location is deterministic per (ticket, name) and a
// retried message overwrites its own previous artifact.
func (s *FSStore) ArchiveBody(ticketID, name string, html []byte) (Ref, error) {
	if strings.TrimSpace(ticketID) == "" {
		return Ref{}, errors.New("blob archive requires a ticket id")
	}

	dir := filepath.Join(s.root, ticketID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("creating ticket directory %s: %w", dir, err)
	}

	target := extract.SanitizeFilename(name)
	if !strings.HasSuffix(target, ".html") {
		target += ".html"
	}
	if err := os.WriteFile(filepath.Join(dir, target), html, 0o644); err != nil {
		return Ref{}, fmt.Errorf("writing body artifact %s: %w", target, err)
	}

	return Ref{
		Filename: target,
		Path:     filepath.Join(ticketID, target),
		Size:     int64(len(html)),
	}, nil
}

// Read returns the payload bytes for a previously returned reference.
func (s *FSStore) Read(ref Ref) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ref.Path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ref.Path, err)
	}
	return data, nil
}

// availableName finds the first unused filename in dir, suffixing the
// base name with -1, -2, ... on collisions.
func availableName(dir, name string) (string, error) {
	base, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		base, ext = name[:idx], name[idx:]
	}

	candidate := name
	for i := 1; ; i++ {
		_, err := os.Stat(filepath.Join(dir, candidate))
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
}
