package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
)

const (
	factsFileMode   = 0o600
	factsDirMode    = 0o700
	factsFileSuffix = ".toml"
)

// StorageError reports a persistence failure. The previous durable state is
// always left intact when one of these is returned.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("memory store: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *StorageError) Unwrap() error { return e.Err }

// Locks are registered per durable file path, not per store instance, so two
// stores pointed at the same directory still serialize their writers.
var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

// FileStoreOptions configure a FileStore.
type FileStoreOptions struct {
	Logger logging.Logger
}

// FileStore persists one TOML file per identity under a data directory.
// Save rewrites the identity's full namespace atomically; concurrent saves
// for the same identity are serialized through a per-file lock while
// different identities write independently. Nothing is ever evicted: the
// data is personal-scale by design and a fact forgotten silently is worse
// than a large file.
type FileStore struct {
	dataDir string
	logger  logging.Logger
}

var _ core.MemoryStore = (*FileStore)(nil)

// NewFileStore creates a store rooted at dataDir. The directory is created
// lazily on first write.
func NewFileStore(dataDir string, optFns ...func(o *FileStoreOptions)) *FileStore {
	opts := FileStoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &FileStore{
		dataDir: filepath.Clean(dataDir),
		logger:  opts.Logger,
	}
}

// WithFileStoreLogger sets the logger for store diagnostics.
func WithFileStoreLogger(l logging.Logger) func(o *FileStoreOptions) {
	return func(o *FileStoreOptions) { o.Logger = l }
}

// fileSchema is the durable layout of one identity's namespace.
type fileSchema struct {
	Identity string              `toml:"identity"`
	Facts    []core.MemoryRecord `toml:"facts"`
}

// Slugify sanitizes an identity into a filesystem-safe name. Alphanumeric
// runes are lowercased and kept; every other run collapses to a single
// hyphen. An identity with no usable runes maps to "user".
func Slugify(identity core.Identity) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(string(identity)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "user"
	}
	return slug
}

// Path returns the durable file backing the identity's namespace.
func (s *FileStore) Path(identity core.Identity) string {
	return filepath.Join(s.dataDir, Slugify(identity)+factsFileSuffix)
}

// Load reads the identity's full namespace. A missing file is not an error;
// it yields an empty namespace.
func (s *FileStore) Load(ctx context.Context, identity core.Identity) (core.MemoryNamespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(identity)
	mu := lockForPath(path)
	mu.RLock()
	defer mu.RUnlock()

	file, err := s.readSchema(path)
	if err != nil {
		return nil, err
	}

	ns := make(core.MemoryNamespace, len(file.Facts))
	for _, rec := range file.Facts {
		ns[rec.Key] = rec
	}
	return ns, nil
}

// Save upserts one fact and flushes the identity's full namespace to disk.
// Writes for the same identity are mutually exclusive; the caller sees either
// the previous durable state or the new one, never a partial file.
func (s *FileStore) Save(ctx context.Context, identity core.Identity, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("memory store: key must not be empty")
	}

	path := s.Path(identity)
	mu := lockForPath(path)
	mu.Lock()
	defer mu.Unlock()

	file, err := s.readSchema(path)
	if err != nil {
		return err
	}
	file.Identity = string(identity)

	rec := core.MemoryRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	replaced := false
	for i := range file.Facts {
		if file.Facts[i].Key == key {
			file.Facts[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		file.Facts = append(file.Facts, rec)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.writeSchema(path, file); err != nil {
		return err
	}

	s.logger.Debug("memory.fact.saved",
		"identity", string(identity),
		"key", key,
		"facts", len(file.Facts),
	)
	return nil
}

func (s *FileStore) readSchema(path string) (fileSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, &StorageError{Op: "read", Path: path, Err: err}
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, &StorageError{Op: "decode", Path: path, Err: err}
	}
	return file, nil
}

// writeSchema replaces the durable file via temp-write-then-rename so a
// reader never observes a half-written namespace.
func (s *FileStore) writeSchema(path string, file fileSchema) error {
	if err := os.MkdirAll(s.dataDir, factsDirMode); err != nil {
		return &StorageError{Op: "mkdir", Path: s.dataDir, Err: err}
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}

	base := strings.TrimSuffix(filepath.Base(path), factsFileSuffix)
	tempFile, err := os.CreateTemp(s.dataDir, "."+base+"-*.toml.tmp")
	if err != nil {
		return &StorageError{Op: "create temp", Path: path, Err: err}
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return &StorageError{Op: "write temp", Path: tempName, Err: err}
	}

	if err := tempFile.Chmod(factsFileMode); err != nil {
		_ = tempFile.Close()
		return &StorageError{Op: "chmod temp", Path: tempName, Err: err}
	}

	if err := tempFile.Close(); err != nil {
		return &StorageError{Op: "close temp", Path: tempName, Err: err}
	}

	if err := os.Rename(tempName, path); err != nil {
		return &StorageError{Op: "replace", Path: path, Err: err}
	}

	cleanup = false
	return nil
}
