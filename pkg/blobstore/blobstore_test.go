package blobstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitzmahone/relay/pkg/resource"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func writeBlob(t *testing.T, s *Store, key string, data []byte) {
	t.Helper()
	w, err := s.Put(key)
	require.NoError(t, err)
	require.NoError(t, w.Write(data))
	require.NoError(t, w.Close())
}

func readBlob(t *testing.T, r resource.Reader) []byte {
	t.Helper()
	defer r.Close()
	data, err := resource.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)
	writeBlob(t, s, "payload", []byte("some bytes"))

	r, err := s.Get("payload")
	require.NoError(t, err)
	assert.Equal(t, []byte("some bytes"), readBlob(t, r))
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidKeys(t *testing.T) {
	s := newStore(t)

	for _, key := range []string{"", "a/b", "..", "."} {
		_, err := s.Get(key)
		assert.Error(t, err, "key %q", key)
		_, err = s.Put(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newStore(t)
	writeBlob(t, s, "k", []byte("first"))
	writeBlob(t, s, "k", []byte("second"))

	r, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), readBlob(t, r))
}

func TestSingleFlightUnderContention(t *testing.T) {
	s := newStore(t)

	var creates atomic.Int32
	desc := Descriptor{
		Key: "K",
		Create: func() error {
			creates.Add(1)
			go func() {
				time.Sleep(200 * time.Millisecond)
				_ = s.DynamicContext("K", func(w resource.Writer) error {
					return w.Write([]byte("payload"))
				})
			}()
			return nil
		},
	}

	const callers = 5
	results := make([][]byte, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.GetDynamic(context.Background(), desc)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = readBlob(t, r)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), creates.Load(), "exactly one create() for the key")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("payload"), results[i])
	}
}

func TestProducerFailurePropagatesAndRetries(t *testing.T) {
	s := newStore(t)

	var creates atomic.Int32
	fail := true
	desc := Descriptor{Key: "K"}
	desc.Create = func() error {
		creates.Add(1)
		shouldFail := fail
		go func() {
			_ = s.DynamicContext("K", func(w resource.Writer) error {
				if shouldFail {
					return errors.New("bad")
				}
				return w.Write([]byte("recovered"))
			})
		}()
		return nil
	}

	_, err := s.GetDynamic(context.Background(), desc)
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, genErr.Msg, "bad")

	// Errors are not cached: the next call re-runs create()
	fail = false
	r, err := s.GetDynamic(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), readBlob(t, r))
	assert.Equal(t, int32(2), creates.Load())
}

func TestProducerPanicIsRecorded(t *testing.T) {
	s := newStore(t)

	desc := Descriptor{Key: "K"}
	desc.Create = func() error {
		go func() {
			_ = s.DynamicContext("K", func(w resource.Writer) error {
				panic("exploded")
			})
		}()
		return nil
	}

	_, err := s.GetDynamic(context.Background(), desc)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, genErr.Msg, "exploded")
	assert.NotEmpty(t, genErr.Traceback)
}

func TestNoPartialContentVisible(t *testing.T) {
	s := newStore(t)
	full := []byte("chunk-one|chunk-two|chunk-three")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.DynamicContext("slow", func(w resource.Writer) error {
			for _, chunk := range [][]byte{[]byte("chunk-one|"), []byte("chunk-two|"), []byte("chunk-three")} {
				if err := w.Write(chunk); err != nil {
					return err
				}
				time.Sleep(30 * time.Millisecond)
			}
			return nil
		})
	}()

	// Any successful Get must observe the complete content, never a prefix
	for {
		r, err := s.Get("slow")
		if err == nil {
			assert.Equal(t, full, readBlob(t, r))
			break
		}
		require.ErrorIs(t, err, ErrNotFound)
		time.Sleep(5 * time.Millisecond)
	}
	<-done
}

func TestDynamicContextWithoutPriorRendezvous(t *testing.T) {
	s := newStore(t)

	err := s.DynamicContext("direct", func(w resource.Writer) error {
		return w.Write([]byte("direct content"))
	})
	require.NoError(t, err)

	r, err := s.Get("direct")
	require.NoError(t, err)
	assert.Equal(t, []byte("direct content"), readBlob(t, r))

	// Rendezvous is gone; a follow-up GetDynamic is a plain cache hit
	r, err = s.GetDynamic(context.Background(), Descriptor{Key: "direct", Create: func() error {
		t.Fatal("create must not run for cached content")
		return nil
	}})
	require.NoError(t, err)
	r.Close()
}

func TestGetDynamicWaitTimeout(t *testing.T) {
	s := newStore(t, WithWaitTimeout(150*time.Millisecond))

	// A producer that never publishes
	desc := Descriptor{Key: "stuck", Create: func() error { return nil }}

	start := time.Now()
	_, err := s.GetDynamic(context.Background(), desc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSweepStaleLocksWakesWaiters(t *testing.T) {
	s := newStore(t)

	desc := Descriptor{Key: "orphan", Create: func() error { return nil }}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.GetDynamic(context.Background(), desc)
		errCh <- err
	}()

	// Let the waiter park on the rendezvous, then sweep it away
	time.Sleep(100 * time.Millisecond)
	removed, err := s.SweepStaleLocks(0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNoContentOrError)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by the sweep")
	}
}

func TestGetDynamicContextCancel(t *testing.T) {
	s := newStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	desc := Descriptor{Key: "cancelled", Create: func() error { return nil }}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.GetDynamic(ctx, desc)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not release the waiter")
	}
}
