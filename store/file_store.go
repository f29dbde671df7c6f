package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/recallkit/recallkit/core"
	"github.com/recallkit/recallkit/logging"
)

const (
	shortTermFile = "short_term.json"
	longTermFile  = "long_term.json"

	// DefaultWriteDelay is the coalescing window for buffered writes.
	DefaultWriteDelay = time.Second

	writeRetries     = 3
	baseRetryBackoff = 100 * time.Millisecond
)

var conversationIDSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeConversationID maps a conversation id to a filesystem-safe
// directory name: characters outside [A-Za-z0-9_-] become underscores.
func SanitizeConversationID(id string) string {
	if id == "" {
		return "_"
	}
	return conversationIDSanitizer.ReplaceAllString(id, "_")
}

// Options configures a FileStore.
type Options struct {
	// WriteDelay is the coalescing window before a buffered write hits disk.
	WriteDelay time.Duration
	// Logger receives flush diagnostics.
	Logger logging.Logger
	// OnWriteError is invoked when a buffered write fails after exhausting
	// retries. Flushes are asynchronous so this is the only delivery path
	// for background write failures; synchronous FlushAll/Close return them
	// directly as well.
	OnWriteError func(path string, err error)
}

// FileStore is a core.DocumentStore backed by per-conversation JSON
// document pairs.
//
// Contract:
//   - per-path writes are totally ordered: the coalescing buffer holds one
//     pending document per path and a per-path write lock keeps a retrying
//     older write from landing over a newer one; documents are written via
//     temp-file rename so no partial JSON ever reaches disk
//   - loads observe buffered writes (read-through) so a load immediately
//     after a save sees the newest document
//   - directory existence is cached after the first successful create and
//     never invalidated mid-run; externally removing a conversation
//     directory while the process runs leads to a failed write surfaced
//     through the retry path (known staleness risk, kept deliberately)
type FileStore struct {
	baseDir string
	delay   time.Duration
	logger  logging.Logger
	onError func(path string, err error)

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool

	// writeLocks serialize disk writes per path so a retrying older write
	// can never rename a stale document over a newer one
	writeLocks map[string]*sync.Mutex
	flushWG    sync.WaitGroup

	dirCache *ristretto.Cache
}

type pendingWrite struct {
	data  []byte
	timer *time.Timer
}

var _ core.DocumentStore = (*FileStore)(nil)

// New creates a FileStore rooted at baseDir.
func New(baseDir string, optFns ...func(o *Options)) (*FileStore, error) {
	opts := Options{WriteDelay: DefaultWriteDelay, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.WriteDelay <= 0 {
		opts.WriteDelay = DefaultWriteDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	dirCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create directory cache: %w", err)
	}
	s := &FileStore{
		baseDir:    baseDir,
		delay:      opts.WriteDelay,
		logger:     opts.Logger,
		onError:    opts.OnWriteError,
		pending:    map[string]*pendingWrite{},
		writeLocks: map[string]*sync.Mutex{},
		dirCache:   dirCache,
	}
	return s, nil
}

// BaseDir returns the store's root directory.
func (s *FileStore) BaseDir() string { return s.baseDir }

func (s *FileStore) conversationDir(conversationID string) string {
	return filepath.Join(s.baseDir, SanitizeConversationID(conversationID))
}

// ShortTermPath returns the short-term document path for a conversation.
func (s *FileStore) ShortTermPath(conversationID string) string {
	return filepath.Join(s.conversationDir(conversationID), shortTermFile)
}

// LongTermPath returns the long-term document path for a conversation.
func (s *FileStore) LongTermPath(conversationID string) string {
	return filepath.Join(s.conversationDir(conversationID), longTermFile)
}

// LoadShortTerm reads and normalizes the short-term document. A missing
// file yields an empty slice; any other read or parse error propagates.
func (s *FileStore) LoadShortTerm(conversationID string) ([]map[string]any, error) {
	data, err := s.loadIfExists(s.ShortTermPath(conversationID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []map[string]any{}, nil
	}
	return normalizeShortTermDocument(data)
}

// LoadLongTerm reads and normalizes the long-term document. A missing file
// yields an empty slice; any other read or parse error propagates.
func (s *FileStore) LoadLongTerm(conversationID string) ([]map[string]any, error) {
	data, err := s.loadIfExists(s.LongTermPath(conversationID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []map[string]any{}, nil
	}
	return normalizeLongTermDocument(data)
}

// loadIfExists returns the document bytes, preferring a buffered write over
// the on-disk copy. Missing files yield (nil, nil).
func (s *FileStore) loadIfExists(path string) ([]byte, error) {
	s.mu.Lock()
	if pw, ok := s.pending[path]; ok {
		data := make([]byte, len(pw.data))
		copy(data, pw.data)
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// SaveShortTerm sanitizes and buffers the short-term document for the
// conversation. The write reaches disk after the coalescing delay.
func (s *FileStore) SaveShortTerm(conversationID string, records []core.ShortTermMemory) error {
	data, err := json.MarshalIndent(sanitizeShortTermRecords(records), "", "  ")
	if err != nil {
		return fmt.Errorf("encode short-term document: %w", err)
	}
	return s.enqueue(s.ShortTermPath(conversationID), data)
}

// SaveLongTerm sanitizes and buffers the long-term document for the
// conversation.
func (s *FileStore) SaveLongTerm(conversationID string, records []core.LongTermMemory) error {
	data, err := json.MarshalIndent(sanitizeLongTermRecords(records), "", "  ")
	if err != nil {
		return fmt.Errorf("encode long-term document: %w", err)
	}
	return s.enqueue(s.LongTermPath(conversationID), data)
}

// enqueue buffers data for path, replacing any pending buffer and
// restarting its delay timer.
func (s *FileStore) enqueue(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if pw, ok := s.pending[path]; ok {
		pw.data = data
		pw.timer.Reset(s.delay)
		return nil
	}
	pw := &pendingWrite{data: data}
	pw.timer = time.AfterFunc(s.delay, func() { s.flushAsync(path) })
	s.pending[path] = pw
	return nil
}

// flushAsync is the timer-fired flush. It registers with the in-flight
// group before touching the buffer so FlushAll can wait out a flush that
// is sleeping in its retry backoff, and delivers terminal failures through
// the error callback.
func (s *FileStore) flushAsync(path string) {
	s.flushWG.Add(1)
	defer s.flushWG.Done()
	if err := s.flushPath(path); err != nil {
		s.logger.Error("store write failed after retries", "path", path, "error", err.Error())
		if s.onError != nil {
			s.onError(path, err)
		}
	}
}

// writeLock returns the write mutex for path, creating it on first use.
// Locks are never dropped; the set is bounded by two paths per
// conversation.
func (s *FileStore) writeLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.writeLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.writeLocks[path] = lock
	}
	return lock
}

// flushPath writes the buffered document for path, if any. The per-path
// write lock totally orders disk writes for one path: an older write still
// in its retry backoff completes before a newer one may start.
func (s *FileStore) flushPath(path string) error {
	lock := s.writeLock(path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	pw, ok := s.pending[path]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.pending, path)
	pw.timer.Stop()
	data := pw.data
	s.mu.Unlock()

	start := time.Now()
	err := s.writeWithRetry(path, data)
	s.logger.Debug("store flush", "path", path, "duration", time.Since(start), "error", err)
	return err
}

// FlushAll synchronously drains every buffered write and waits for
// timer-fired flushes still in their retry window. Mandatory on shutdown;
// a buffered write left undrained is silent data loss.
func (s *FileStore) FlushAll() error {
	for {
		s.mu.Lock()
		var path string
		for p := range s.pending {
			path = p
			break
		}
		s.mu.Unlock()
		if path == "" {
			break
		}

		if err := s.flushPath(path); err != nil {
			return fmt.Errorf("flush %s: %w", path, err)
		}
	}
	s.flushWG.Wait()
	return nil
}

// Close flushes all buffered writes and rejects further saves. Safe to
// call more than once.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	err := s.FlushAll()
	s.dirCache.Close()
	return err
}

// writeWithRetry writes data to path via temp-file rename, retrying
// transient failures with exponential backoff (100ms·2^n).
func (s *FileStore) writeWithRetry(path string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt <= writeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(baseRetryBackoff << (attempt - 1))
		}
		if err := s.ensureDir(filepath.Dir(path)); err != nil {
			lastErr = err
			continue
		}
		if err := atomicWrite(path, data); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("write %s: %w", path, lastErr)
}

// ensureDir creates dir once and caches its existence. The cache is never
// invalidated mid-run.
func (s *FileStore) ensureDir(dir string) error {
	if _, ok := s.dirCache.Get(dir); ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	s.dirCache.Set(dir, struct{}{}, 1)
	return nil
}

// atomicWrite writes data to a temp file in the target directory and
// renames it over path so readers never observe a partial document.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// PendingWrites reports the number of buffered documents. Primarily for
// tests and shutdown diagnostics.
func (s *FileStore) PendingWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

var errClosed = errors.New("store is closed")
