package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/metrics"
	"github.com/nitzmahone/relay/pkg/resource"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound reports a missing blob
	ErrNotFound = errors.New("blob not found")

	// ErrNoContentOrError reports that a generation rendezvous completed but
	// left neither content nor a recorded error behind.
	ErrNoContentOrError = errors.New("no content or error recorded")
)

// GenerationError surfaces a producer-side failure to every waiter
type GenerationError struct {
	Msg       string `json:"msg"`
	Traceback string `json:"traceback,omitempty"`
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("content generation failed: %s", e.Msg)
}

// Descriptor names dynamic content and knows how to request its generation.
// Create must only enqueue the generation request and return; the actual
// production happens elsewhere, typically in a content worker.
type Descriptor struct {
	Key    string
	Create func() error
}

// Store is a content-addressed cache of on-disk byte blobs rooted under a
// process-owned temp directory. It is multi-process safe: generation is
// coordinated across workers through a named-FIFO rendezvous per key.
type Store struct {
	root        string
	waitTimeout time.Duration
	logger      zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithWaitTimeout bounds how long GetDynamic waits on a rendezvous before
// giving up on a producer that may have died. Zero means wait forever.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Store) { s.waitTimeout = d }
}

// New opens (creating if needed) a store rooted at root
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:   root,
		logger: log.WithComponent("blobstore"),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{"content", "error", "lock"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create blobstore dir %s: %w", dir, err)
		}
	}

	return s, nil
}

// Root returns the store's root directory
func (s *Store) Root() string {
	return s.root
}

func (s *Store) contentPath(key string) string {
	return filepath.Join(s.root, "content", key)
}

func (s *Store) errorPath(key string) string {
	return filepath.Join(s.root, "error", key)
}

func (s *Store) lockPath(key string) string {
	return filepath.Join(s.root, "lock", key)
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/\x00") || key == "." || key == ".." {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}

// Get opens the completed blob named key for streaming read
func (s *Store) Get(key string) (resource.Reader, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	r, err := resource.OpenFileReader(s.contentPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return r, nil
}

// Put opens the blob named key for streaming write, overwriting any prior
// content. The caller owns completion; partially written blobs are visible
// to Get, so producers of coordinated content go through DynamicContext
// instead.
func (s *Store) Put(key string) (resource.Writer, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return resource.CreateFileWriter(s.contentPath(key))
}

// GetDynamic returns a reader for the blob named by desc, coordinating
// single-flight generation across all processes sharing the store root.
// Exactly one caller per key becomes the producer and triggers
// desc.Create(); everyone blocks on the rendezvous until the content or a
// recorded error is durable.
func (s *Store) GetDynamic(ctx context.Context, desc Descriptor) (resource.Reader, error) {
	if r, err := s.Get(desc.Key); err == nil {
		metrics.BlobstoreRequests.WithLabelValues("hit").Inc()
		return r, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	metrics.BlobstoreRequests.WithLabelValues("miss").Inc()
	lockPath := s.lockPath(desc.Key)

	switch err := unix.Mkfifo(lockPath, 0o644); {
	case err == nil:
		// We won the producer election; ask for generation. Create only
		// enqueues the request, so we fall through and wait like any
		// other consumer.
		s.logger.Debug().Str("key", desc.Key).Msg("elected producer for dynamic content")
		if createErr := desc.Create(); createErr != nil {
			os.Remove(lockPath)
			return nil, fmt.Errorf("failed to request generation of %q: %w", desc.Key, createErr)
		}
	case errors.Is(err, unix.EEXIST):
		// Another caller is already producing; just wait.
	default:
		return nil, fmt.Errorf("failed to create rendezvous for %q: %w", desc.Key, err)
	}

	if err := s.waitRendezvous(ctx, desc.Key, lockPath); err != nil {
		return nil, err
	}

	if r, err := s.Get(desc.Key); err == nil {
		return r, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if data, err := os.ReadFile(s.errorPath(desc.Key)); err == nil {
		genErr := &GenerationError{}
		if jsonErr := json.Unmarshal(data, genErr); jsonErr != nil {
			genErr.Msg = string(data)
		}
		return nil, genErr
	}

	return nil, fmt.Errorf("%w: %s", ErrNoContentOrError, desc.Key)
}

// waitRendezvous blocks until the producer for key unlinks the rendezvous.
// Opening the FIFO read-only parks us until a writer appears; reading to EOF
// parks us until the writer closes, which the producer only does after the
// final content or error file has been renamed into place.
func (s *Store) waitRendezvous(ctx context.Context, key, lockPath string) error {
	done := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(lockPath, os.O_RDONLY, 0)
		if err != nil {
			// Already unlinked: the producer finished before we got here.
			if os.IsNotExist(err) {
				done <- nil
			} else {
				done <- err
			}
			return
		}
		defer f.Close()

		_, err = io.Copy(io.Discard, f)
		done <- err
	}()

	var timeout <-chan time.Time
	if s.waitTimeout > 0 {
		timer := time.NewTimer(s.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("timed out after %s waiting for generation of %q", s.waitTimeout, key)
	}
}

// DynamicContext runs fn with a writer for key, guaranteeing atomic
// publish-or-record-error on exit. Content lands in a temp file and is
// renamed into place only on success; failures unlink the temp file and
// record a JSON error instead. In both cases the rendezvous is unlinked
// last, which releases every waiter in GetDynamic.
func (s *Store) DynamicContext(key string, fn func(resource.Writer) error) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lockPath := s.lockPath(key)
	fd, err := unix.Open(lockPath, unix.O_RDWR, 0)
	if errors.Is(err, unix.ENOENT) {
		// Generation requested without a consumer-side rendezvous; make one
		// so late arrivals still block until we finish.
		if err = unix.Mkfifo(lockPath, 0o644); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("failed to create rendezvous for %q: %w", key, err)
		}
		fd, err = unix.Open(lockPath, unix.O_RDWR, 0)
	}
	if err != nil {
		return fmt.Errorf("failed to open rendezvous for %q: %w", key, err)
	}

	// Unlink before close: waiters parked on the FIFO read EOF once our
	// writer-side close lands, and no new waiter can rendezvous on a key
	// whose outcome is already durable.
	release := func() {
		os.Remove(lockPath)
		unix.Close(fd)
	}

	tmpKey := key + ".tmp"
	genErr := s.produce(tmpKey, fn)

	if genErr == nil {
		if err := os.Rename(s.contentPath(tmpKey), s.contentPath(key)); err != nil {
			genErr = fmt.Errorf("failed to publish content for %q: %w", key, err)
		} else {
			os.Remove(s.errorPath(key))
			metrics.BlobstoreGenerations.WithLabelValues("ok").Inc()
		}
	}

	if genErr != nil {
		os.Remove(s.contentPath(tmpKey))
		s.recordError(key, genErr)
		metrics.BlobstoreGenerations.WithLabelValues("error").Inc()
	}

	release()
	return genErr
}

// produce writes the temp blob, converting fn panics into errors so a
// misbehaving content plugin cannot wedge every waiter.
func (s *Store) produce(tmpKey string, fn func(resource.Writer) error) (err error) {
	w, putErr := s.Put(tmpKey)
	if putErr != nil {
		return putErr
	}

	defer func() {
		if r := recover(); r != nil {
			err = &GenerationError{Msg: fmt.Sprint(r), Traceback: string(debug.Stack())}
		}
		w.Close()
	}()

	return fn(w)
}

func (s *Store) recordError(key string, genErr error) {
	rec := &GenerationError{Msg: genErr.Error()}
	var existing *GenerationError
	if errors.As(genErr, &existing) {
		rec = existing
	}

	data, err := json.Marshal(rec)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"msg":%q}`, genErr.Error()))
	}

	if err := os.WriteFile(s.errorPath(key), data, 0o644); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to record generation error")
	}
}

// SweepStaleLocks removes rendezvous objects older than maxAge, waking any
// readers still blocked on them. Covers producers that died before
// publishing; their waiters then observe ErrNoContentOrError and can retry.
func (s *Store) SweepStaleLocks(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "lock"))
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.root, "lock", entry.Name())

		// Opening write-only succeeds only if readers are parked on the
		// FIFO; closing it afterwards hands them EOF.
		wfd, openErr := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		os.Remove(path)
		if openErr == nil {
			unix.Close(wfd)
		}

		s.logger.Warn().Str("key", entry.Name()).Msg("removed stale rendezvous")
		removed++
	}

	return removed, nil
}
