package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"fascicle/internal/fileutil"
	"fascicle/internal/logging"
	"fascicle/internal/provenance"
	"fascicle/internal/services"
)

const manifestName = "manifest.json"

// lockRetryInterval paces lock acquisition attempts while honoring context
// cancellation.
const lockRetryInterval = 50 * time.Millisecond

// Store maps provenance keys to materialized stage outputs beneath a root
// directory. Writes are atomic (staged in a scratch directory, committed with
// a single rename) and serialized per key with a file lock, so concurrent
// subject runs never interleave bytes and a crash mid-write leaves nothing
// visible to Lookup.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore opens (creating if needed) an artifact store rooted at dir.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifact store root is required")
	}
	for _, sub := range []string{dir, filepath.Join(dir, ".tmp"), filepath.Join(dir, ".locks")} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact directory %s: %w", sub, err)
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{root: dir, logger: logging.NewComponentLogger(logger, "artifact-store")}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// EntryDir returns the stable location for a subject's entry under key.
func (s *Store) EntryDir(subject string, key provenance.Key) string {
	return filepath.Join(s.root, subject, key.Stage, key.Short())
}

func (s *Store) lockPath(subject string, key provenance.Key) string {
	return filepath.Join(s.root, ".locks", subject+"-"+key.Stage+"-"+key.Short()+".lock")
}

// Lookup returns the cached entry for key, or nil on a miss. A stored entry
// whose on-disk fingerprints no longer match what was recorded at store time
// is treated as a miss rather than silently reused.
func (s *Store) Lookup(ctx context.Context, subject string, key provenance.Key) (*Entry, error) {
	entry, err := s.readEntry(subject, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if !s.verify(entry) {
		s.logger.Warn("artifact fingerprint mismatch, treating as miss",
			logging.String(logging.FieldSubject, subject),
			logging.String(logging.FieldKey, key.String()),
		)
		return nil, nil
	}
	return entry, nil
}

// Store commits payloads under key. If another writer committed the same key
// first, its completed entry is returned instead of rewriting.
func (s *Store) Store(ctx context.Context, subject string, key provenance.Key, payloads []Payload) (*Entry, error) {
	if len(payloads) == 0 {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "no payloads to store", nil)
	}

	lock := flock.New(s.lockPath(subject, key))
	ok, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "acquire write lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "write lock unavailable", nil)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	// A concurrent writer may have beaten us here; the completed entry wins.
	if existing, err := s.Lookup(ctx, subject, key); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	scratch := filepath.Join(s.root, ".tmp", uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "create scratch directory", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	entry := &Entry{
		Key:      key,
		Subject:  subject,
		StoredAt: time.Now().UTC(),
	}
	for _, payload := range payloads {
		name := payload.Name
		if name == "" {
			name = string(payload.Role)
		}
		if err := os.WriteFile(filepath.Join(scratch, name), payload.Data, 0o644); err != nil {
			return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "write payload "+name, err)
		}
		entry.Outputs = append(entry.Outputs, File{
			Role:   payload.Role,
			Name:   name,
			SHA256: fileutil.SHA256Bytes(payload.Data),
			Size:   int64(len(payload.Data)),
		})
	}

	manifest, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "encode manifest", err)
	}
	if err := os.WriteFile(filepath.Join(scratch, manifestName), manifest, 0o644); err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "write manifest", err)
	}

	dir := s.EntryDir(subject, key)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "create stage directory", err)
	}
	// A leftover directory here failed verification earlier; clear it while
	// holding the key lock.
	if err := os.RemoveAll(dir); err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "clear stale entry", err)
	}
	if err := os.Rename(scratch, dir); err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "store", "commit entry", err)
	}

	entry.dir = dir
	s.logger.Debug("artifact stored",
		logging.String(logging.FieldSubject, subject),
		logging.String(logging.FieldKey, key.String()),
		logging.Int("outputs", len(entry.Outputs)),
	)
	return entry, nil
}

// Invalidate removes the entry stored under key, if any. Cascading to
// downstream keys is the pipeline's responsibility.
func (s *Store) Invalidate(ctx context.Context, subject string, key provenance.Key) error {
	lock := flock.New(s.lockPath(subject, key))
	ok, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return services.Wrap(services.ErrStorage, key.Stage, "invalidate", "acquire write lock", err)
	}
	if !ok {
		return services.Wrap(services.ErrStorage, key.Stage, "invalidate", "write lock unavailable", nil)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err := os.RemoveAll(s.EntryDir(subject, key)); err != nil {
		return services.Wrap(services.ErrStorage, key.Stage, "invalidate", "remove entry", err)
	}
	return nil
}

// Read returns the stored bytes for role within entry, verifying nothing
// further; Lookup already checked fingerprints.
func (s *Store) Read(entry *Entry, role Role) ([]byte, error) {
	file, ok := entry.Output(role)
	if !ok {
		return nil, services.Wrap(services.ErrStorage, entry.Key.Stage, "read", "no output for role "+string(role), nil)
	}
	data, err := os.ReadFile(filepath.Join(entry.dir, file.Name))
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, entry.Key.Stage, "read", "read output "+file.Name, err)
	}
	return data, nil
}

func (s *Store) readEntry(subject string, key provenance.Key) (*Entry, error) {
	dir := s.EntryDir(subject, key)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, key.Stage, "lookup", "read manifest", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt manifest is a miss, not an error: the writer recommits.
		return nil, nil
	}
	if entry.Key != key {
		return nil, nil
	}
	entry.dir = dir
	return &entry, nil
}

func (s *Store) verify(entry *Entry) bool {
	for _, file := range entry.Outputs {
		digest, size, err := fileutil.SHA256File(filepath.Join(entry.dir, file.Name))
		if err != nil || size != file.Size || digest != file.SHA256 {
			return false
		}
	}
	return len(entry.Outputs) > 0
}

// Entries walks the store and returns all committed entries for a subject,
// used by the cache CLI. Order follows the directory walk.
func (s *Store) Entries(subject string) ([]*Entry, error) {
	base := filepath.Join(s.root, subject)
	var entries []*Entry
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != manifestName {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		entry.dir = filepath.Dir(path)
		entries = append(entries, &entry)
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "entries", "walk store", err)
	}
	return entries, nil
}
