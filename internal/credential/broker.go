package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"ice-broker/internal/domain"
)

// call is the handle shared by every caller waiting on one fetch.
type call struct {
	done    chan struct{}
	set     domain.CredentialSet
	err     error
	waiters int
}

// Broker owns the credential cache and guarantees at most one outstanding
// fetch. It is safe for concurrent use; create one per process and share it.
type Broker struct {
	fetcher Fetcher
	cache   *Cache
	events  domain.EventReporter
	clock   clock.Clock
	timeout time.Duration

	// mu guards inflight and the cache check that precedes starting a fetch.
	mu       sync.Mutex
	inflight *call
}

type BrokerOption func(*Broker)

func WithClock(clk clock.Clock) BrokerOption {
	return func(b *Broker) { b.clock = clk }
}

func WithEvents(r domain.EventReporter) BrokerOption {
	return func(b *Broker) { b.events = r }
}

func WithTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) { b.timeout = d }
}

func NewBroker(fetcher Fetcher, cache *Cache, opts ...BrokerOption) *Broker {
	b := &Broker{
		fetcher: fetcher,
		cache:   cache,
		events:  domain.NopReporter{},
		clock:   clock.New(),
		timeout: FetchTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cache == nil {
		b.cache = NewCache(b.clock, DefaultTTL)
	}
	return b
}

// Acquire returns a valid credential set, from cache or from a fetch shared
// with every concurrent caller. ctx only bounds how long this caller waits:
// a started fetch always runs until it settles or times out.
func (b *Broker) Acquire(ctx context.Context) (domain.CredentialSet, error) {
	if !b.fetcher.Configured() {
		err := &domain.FetchError{Kind: domain.ErrNotConfigured}
		b.events.Report(domain.Event{Kind: domain.EventFetchNotConfigured, Severity: domain.SeverityInfo, Err: err})
		return domain.CredentialSet{}, err
	}

	b.mu.Lock()
	if set, ok := b.cache.Get(); ok {
		b.mu.Unlock()
		b.events.Report(domain.Event{Kind: domain.EventCacheHit, Severity: domain.SeverityInfo})
		return set, nil
	}
	c := b.inflight
	if c == nil {
		c = &call{done: make(chan struct{})}
		b.inflight = c
		// Arm the timer before the fetch starts so the bound covers the
		// whole call.
		timer := b.clock.Timer(b.timeout)
		go b.run(c, timer)
	}
	c.waiters++
	b.mu.Unlock()

	select {
	case <-c.done:
		if c.err != nil {
			return domain.CredentialSet{}, c.err
		}
		// Waiters share c.set; each gets its own copy.
		return c.set.Clone(), nil
	case <-ctx.Done():
		return domain.CredentialSet{}, ctx.Err()
	}
}

// Prewarm starts a fetch to fill the cache ahead of first demand and
// ignores the outcome beyond the events it reports.
func (b *Broker) Prewarm() {
	go func() {
		_, _ = b.Acquire(context.Background())
	}()
}

// waiting returns how many callers are attached to the outstanding fetch.
func (b *Broker) waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight == nil {
		return 0
	}
	return b.inflight.waiters
}

// InFlight reports whether a fetch is currently outstanding.
func (b *Broker) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inflight != nil
}

func (b *Broker) run(c *call, timer *clock.Timer) {
	fetchID := uuid.NewString()
	start := b.clock.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		set domain.CredentialSet
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		set, err := b.fetcher.Fetch(ctx)
		resCh <- result{set: set, err: err}
	}()

	var res result
	select {
	case res = <-resCh:
		timer.Stop()
	case <-timer.C:
		res.err = &domain.FetchError{Kind: domain.ErrTimeout, Err: fmt.Errorf("no response within %s", b.timeout)}
	}
	elapsed := b.clock.Since(start)

	// Cache write and marker clear happen together, before any waiter wakes.
	b.mu.Lock()
	if res.err == nil {
		b.cache.Put(res.set)
	}
	b.inflight = nil
	c.set, c.err = res.set, res.err
	b.mu.Unlock()
	defer close(c.done)

	if res.err != nil {
		kind, sev := domain.FetchErrorEvent(res.err)
		b.events.Report(domain.Event{
			Kind:     kind,
			Severity: sev,
			FetchID:  fetchID,
			Err:      res.err,
			Fields:   map[string]any{"duration": elapsed, "retryable": domain.Retryable(res.err)},
		})
		return
	}

	b.events.Report(domain.Event{
		Kind:     domain.EventFetchSuccess,
		Severity: domain.SeverityInfo,
		FetchID:  fetchID,
		Fields:   map[string]any{"duration": elapsed, "servers": len(res.set.Servers)},
	})
	if !res.set.HasRelay() {
		b.events.Report(domain.Event{
			Kind:     domain.EventNoRelayEndpoints,
			Severity: domain.SeverityWarning,
			FetchID:  fetchID,
			Fields:   map[string]any{"servers": len(res.set.Servers)},
		})
	}
}
