package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/practicedesk/practicedesk/internal/crypto"
	"github.com/practicedesk/practicedesk/internal/db/models"
	"github.com/practicedesk/practicedesk/internal/telemetry"
)

// Spool is the durable fallback for audit entries that could not be written
// to the database. Entries are appended as JSON lines to a local file and
// replayed by the drain loop once the database recovers. The spool never
// discards an entry unless the file itself exceeds its size cap.
//
// With a cipher configured, each line is sealed with AES-GCM before it
// touches disk; spooled entries carry the same PHI-adjacent detail as the
// audit table and must not sit on the filesystem in the clear.
type Spool struct {
	path     string
	maxBytes int64
	cipher   *crypto.SpoolCipher
	mu       sync.Mutex
	depth    int
}

// NewSpool opens (or creates) the spool file at path. maxSizeMB caps the file
// size; 0 means unbounded. cipher may be nil for a plaintext spool.
func NewSpool(path string, maxSizeMB int, cipher *crypto.SpoolCipher) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	s := &Spool{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		cipher:   cipher,
	}

	// Count any entries left over from a previous run so the depth gauge
	// starts accurate.
	entries, err := s.readAll()
	if err != nil {
		return nil, err
	}
	s.depth = len(entries)
	telemetry.AuditSpoolDepth.Set(float64(s.depth))

	return s, nil
}

// Append writes one entry to the spool file. It returns an error when the
// spool is full or the filesystem write fails; the caller decides how loudly
// to report that.
func (s *Spool) Append(entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 {
		if info, err := os.Stat(s.path); err == nil && info.Size() >= s.maxBytes {
			return fmt.Errorf("audit spool at %s is full (%d bytes)", s.path, info.Size())
		}
	}

	line, err := s.encodeLine(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal spooled entry: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit spool: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write spooled entry: %w", err)
	}

	s.depth++
	telemetry.AuditSpoolDepth.Set(float64(s.depth))
	return nil
}

// Depth returns the number of entries currently waiting in the spool.
func (s *Spool) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// Drain replays spooled entries into store. Entries that insert successfully
// are removed; entries that fail again stay spooled for the next pass. It
// returns the number of entries replayed.
func (s *Spool) Drain(ctx context.Context, store Store) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var remaining []*models.AuditLogEntry
	replayed := 0
	for i, entry := range entries {
		if ctx.Err() != nil {
			remaining = append(remaining, entries[i:]...)
			break
		}
		if err := store.Insert(ctx, entry); err != nil {
			remaining = append(remaining, entry)
			continue
		}
		replayed++
	}

	if err := s.rewrite(remaining); err != nil {
		return replayed, err
	}

	s.depth = len(remaining)
	telemetry.AuditSpoolDepth.Set(float64(s.depth))
	return replayed, nil
}

func (s *Spool) readAll() ([]*models.AuditLogEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit spool: %w", err)
	}
	defer f.Close()

	var entries []*models.AuditLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entry, err := s.decodeLine(line)
		if err != nil {
			// A corrupt or unreadable line cannot be replayed; skip it
			// rather than wedging the whole spool.
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit spool: %w", err)
	}
	return entries, nil
}

func (s *Spool) rewrite(entries []*models.AuditLogEntry) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to rewrite audit spool: %w", err)
	}

	for _, entry := range entries {
		line, err := s.encodeLine(entry)
		if err != nil {
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("failed to rewrite audit spool: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Spool) encodeLine(entry *models.AuditLogEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	if s.cipher == nil {
		return data, nil
	}
	sealed, err := s.cipher.Seal(data)
	if err != nil {
		return nil, err
	}
	return []byte(sealed), nil
}

func (s *Spool) decodeLine(line []byte) (*models.AuditLogEntry, error) {
	data := line
	if s.cipher != nil {
		opened, err := s.cipher.Open(string(line))
		if err != nil {
			return nil, err
		}
		data = opened
	}
	var entry models.AuditLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
