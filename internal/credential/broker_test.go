package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ice-broker/internal/domain"
	"ice-broker/internal/domain/domaintest"
)

// stubFetcher counts calls and returns whatever next yields. When gate is
// non-nil each call blocks until gate is closed or ctx ends.
type stubFetcher struct {
	calls      atomic.Int32
	configured bool
	gate       chan struct{}
	started    chan struct{}
	next       func(n int32) (domain.CredentialSet, error)
}

func (s *stubFetcher) Configured() bool { return s.configured }

func (s *stubFetcher) Fetch(ctx context.Context) (domain.CredentialSet, error) {
	n := s.calls.Add(1)
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return domain.CredentialSet{}, ctx.Err()
		}
	}
	return s.next(n)
}

func relaySet(user string) domain.CredentialSet {
	return domain.CredentialSet{Servers: []domain.ServerDescriptor{
		domain.NewServerDescriptor([]string{"turn:relay.example.org:3478"}, user, "secret"),
	}}
}

func okFetcher() *stubFetcher {
	return &stubFetcher{
		configured: true,
		next: func(n int32) (domain.CredentialSet, error) {
			return relaySet("user"), nil
		},
	}
}

func TestBroker_CoalescesConcurrentCallers(t *testing.T) {
	f := okFetcher()
	f.gate = make(chan struct{})
	rec := &domaintest.Recorder{}
	b := NewBroker(f, nil, WithEvents(rec))

	const n = 50
	var (
		wg      sync.WaitGroup
		results = make([]domain.CredentialSet, n)
		errs    = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = b.Acquire(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return b.waiting() == n }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Zero(t, rec.Count(domain.EventCacheHit), "every caller attached to the one fetch")
	assert.Equal(t, 1, rec.Count(domain.EventFetchSuccess))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.False(t, b.InFlight())
}

func TestBroker_ResultsDoNotAliasCache(t *testing.T) {
	f := okFetcher()
	f.gate = make(chan struct{})
	b := NewBroker(f, nil)

	firstCh := make(chan domain.CredentialSet, 2)
	for i := 0; i < 2; i++ {
		go func() {
			set, err := b.Acquire(context.Background())
			assert.NoError(t, err)
			firstCh <- set
		}()
	}
	require.Eventually(t, func() bool { return b.waiting() == 2 }, 5*time.Second, time.Millisecond)
	close(f.gate)
	a, c := <-firstCh, <-firstCh

	// Callers sharing one fetch get independent copies.
	a.Servers[0].URIs[0] = "turn:changed.example"
	assert.Equal(t, "turn:relay.example.org:3478", c.Servers[0].URIs[0])

	// Changing a result does not reach later cache hits.
	c.Servers[0].URIs[0] = "turn:changed.example"
	c.Servers[0].Credential = "x"
	hit, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "turn:relay.example.org:3478", hit.Servers[0].URIs[0])
	assert.Equal(t, "secret", hit.Servers[0].Credential)

	hit.Servers[0].URIs[0] = "turn:changed.example"
	again, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "turn:relay.example.org:3478", again.Servers[0].URIs[0])
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestBroker_ConcurrentCallersShareError(t *testing.T) {
	f := &stubFetcher{
		configured: true,
		gate:       make(chan struct{}),
		started:    make(chan struct{}, 1),
		next: func(n int32) (domain.CredentialSet, error) {
			return domain.CredentialSet{}, &domain.FetchError{Kind: domain.ErrServiceError, Status: 502}
		},
	}
	rec := &domaintest.Recorder{}
	b := NewBroker(f, nil, WithEvents(rec))

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := b.Acquire(context.Background())
			errs <- err
		}()
	}
	<-f.started
	time.Sleep(50 * time.Millisecond)
	close(f.gate)

	var first error
	for i := 0; i < 10; i++ {
		err := <-errs
		require.ErrorIs(t, err, domain.ErrServiceError)
		if first == nil {
			first = err
		}
		assert.Same(t, first, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, rec.Count(domain.EventFetchServiceError))
}

func TestBroker_CacheValidity(t *testing.T) {
	mock := clock.NewMock()
	f := okFetcher()
	rec := &domaintest.Recorder{}
	b := NewBroker(f, NewCache(mock, DefaultTTL), WithClock(mock), WithEvents(rec))

	_, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	mock.Add(DefaultTTL - time.Millisecond)
	_, err = b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, rec.Count(domain.EventCacheHit))

	mock.Add(time.Millisecond)
	_, err = b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestBroker_FailureIsNotCached(t *testing.T) {
	f := &stubFetcher{
		configured: true,
		next: func(n int32) (domain.CredentialSet, error) {
			if n == 1 {
				return domain.CredentialSet{}, &domain.FetchError{Kind: domain.ErrTimeout}
			}
			return relaySet("user"), nil
		},
	}
	b := NewBroker(f, nil)

	_, err := b.Acquire(context.Background())
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, b.InFlight())

	set, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, set.HasRelay())
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestBroker_TimeoutClearsInFlight(t *testing.T) {
	mock := clock.NewMock()
	f := okFetcher()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	rec := &domaintest.Recorder{}
	b := NewBroker(f, NewCache(mock, DefaultTTL), WithClock(mock), WithEvents(rec))

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Acquire(context.Background())
		errCh <- err
	}()
	<-f.started

	mock.Add(FetchTimeout - time.Millisecond)
	assert.True(t, b.InFlight())
	select {
	case err := <-errCh:
		t.Fatalf("settled before the bound: %v", err)
	default:
	}

	mock.Add(time.Millisecond)
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, domain.ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("fetch did not time out")
	}
	assert.False(t, b.InFlight())
	assert.Equal(t, 1, rec.Count(domain.EventFetchTimeout))

	// The next caller starts a fresh fetch instead of waiting on the old one.
	close(f.gate)
	_, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestBroker_InvalidPayloadKeepsPriorEntry(t *testing.T) {
	mock := clock.NewMock()
	var bad atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bad.Load() {
			_, _ = w.Write([]byte(`{"unexpected": true}`))
			return
		}
		_, _ = w.Write([]byte(`[{"urls": ["turn:a"], "username": "u", "credential": "p"}]`))
	}))
	defer srv.Close()

	cache := NewCache(mock, DefaultTTL)
	fetcher := NewHTTPFetcher(srv.URL, "k", nil, mock)
	b := NewBroker(fetcher, cache, WithClock(mock))

	first, err := b.Acquire(context.Background())
	require.NoError(t, err)
	expiry := cache.Expiry()

	// Within the TTL the bad payload is never even requested.
	bad.Store(true)
	mock.Add(DefaultTTL / 2)
	got, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, got)

	// Past the TTL the fetch fails and the stored entry is left as it was.
	mock.Add(DefaultTTL)
	_, err = b.Acquire(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Equal(t, expiry, cache.Expiry())
	assert.Equal(t, first, cache.set)
}

func TestBroker_NotConfiguredShortCircuits(t *testing.T) {
	f := okFetcher()
	f.configured = false
	rec := &domaintest.Recorder{}
	b := NewBroker(f, nil, WithEvents(rec))

	_, err := b.Acquire(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.Zero(t, f.calls.Load())
	assert.False(t, b.InFlight())
	assert.Equal(t, 1, rec.Count(domain.EventFetchNotConfigured))
}

func TestBroker_NoRelayAdvisory(t *testing.T) {
	f := &stubFetcher{
		configured: true,
		next: func(n int32) (domain.CredentialSet, error) {
			return domain.CredentialSet{Servers: []domain.ServerDescriptor{
				domain.NewServerDescriptor([]string{"stun:a"}, "", ""),
			}}, nil
		},
	}
	rec := &domaintest.Recorder{}
	b := NewBroker(f, nil, WithEvents(rec))

	set, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Len(t, set.Servers, 1)
	assert.Equal(t, 1, rec.Count(domain.EventFetchSuccess))
	assert.Equal(t, 1, rec.Count(domain.EventNoRelayEndpoints))
}

func TestBroker_CallerContextOnlyStopsWaiting(t *testing.T) {
	f := okFetcher()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	b := NewBroker(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Acquire(ctx)
		errCh <- err
	}()
	<-f.started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.True(t, b.InFlight())

	close(f.gate)
	require.Eventually(t, func() bool { return !b.InFlight() }, time.Second, time.Millisecond)

	_, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load(), "abandoned fetch still fills the cache")
}

func TestBroker_Prewarm(t *testing.T) {
	f := okFetcher()
	b := NewBroker(f, nil)

	b.Prewarm()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 && !b.InFlight() }, time.Second, time.Millisecond)

	_, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
}
