// Package prefetch warms the person and transaction caches for the members
// waiting in the queue, so that a teller opening a check-in finds the data
// already loaded.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiosklab/corelink/pkg/cache"
	"github.com/kiosklab/corelink/pkg/dna"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers          = 4
	DefaultCooldown         = 60 * time.Second
	DefaultTransactionLimit = 50
)

// AccountKey identifies the transaction history of one account of a member.
type AccountKey struct {
	Member  string
	Account string
}

// Fetcher is the subset of dna.Client the coordinator needs.
type Fetcher interface {
	FetchPersonByMemberNumber(ctx context.Context, member string) (*dna.Person, error)
	FetchTransactions(ctx context.Context, account string, limit int) ([]dna.Transaction, error)
}

// Stats are cumulative counters of a Coordinator.
type Stats struct {
	Sweeps  int64 `json:"sweeps"`
	Dropped int64 `json:"dropped"` // triggers dropped because a sweep was running
	Swept   int64 `json:"swept"`
	Skipped int64 `json:"skipped"` // in flight, recently fetched or being fetched elsewhere
	Failed  int64 `json:"failed"`
}

// Coordinator runs background sweeps over the waiting members. At most one
// sweep runs at a time; within a sweep members are fetched by a bounded pool.
type Coordinator struct {
	persons      *cache.Cache[string, *dna.Person]
	transactions *cache.Cache[AccountKey, []dna.Transaction]
	fetcher      Fetcher

	workers  int
	cooldown time.Duration
	limit    int
	now      func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	recent   map[string]time.Time

	sweeps, dropped, swept, skipped, failed atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets how many members are fetched concurrently.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithCooldown sets how long a fetched member is skipped by later sweeps.
func WithCooldown(d time.Duration) Option {
	return func(c *Coordinator) {
		c.cooldown = d
	}
}

// WithTransactionLimit sets how many transactions are fetched per account.
func WithTransactionLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithClock replaces time.Now for the cooldown.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator populating the given caches through fetcher.
func New(
	persons *cache.Cache[string, *dna.Person],
	transactions *cache.Cache[AccountKey, []dna.Transaction],
	fetcher Fetcher,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		persons:      persons,
		transactions: transactions,
		fetcher:      fetcher,
		workers:      DefaultWorkers,
		cooldown:     DefaultCooldown,
		limit:        DefaultTransactionLimit,
		now:          time.Now,
		inFlight:     make(map[string]struct{}),
		recent:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger starts a sweep over members in the background and returns
// immediately. It reports false if a sweep was already running, in which
// case members are ignored.
func (c *Coordinator) Trigger(members []string) bool {
	if !c.running.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		slog.Debug("prefetch sweep already running, trigger dropped")
		return false
	}
	c.sweeps.Add(1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		c.sweep(context.Background(), members)
	}()
	return true
}

// Wait blocks until the running sweep, if any, has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Sweeps:  c.sweeps.Load(),
		Dropped: c.dropped.Load(),
		Swept:   c.swept.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
	}
}

func (c *Coordinator) sweep(ctx context.Context, members []string) {
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	seen := make(map[string]struct{}, len(members))
	for _, member := range members {
		if member == "" {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}

		if !c.claim(member) {
			c.skipped.Add(1)
			continue
		}
		g.Go(func() error {
			c.prefetchMember(ctx, member)
			return nil
		})
	}
	g.Wait()
	slog.Info("prefetch sweep finished", "members", len(seen), "duration", time.Since(start))
}

// claim marks member in flight unless it is already in flight or was
// fetched within the cooldown.
func (c *Coordinator) claim(member string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for m, at := range c.recent {
		if now.Sub(at) >= c.cooldown {
			delete(c.recent, m)
		}
	}
	if _, ok := c.inFlight[member]; ok {
		return false
	}
	if _, ok := c.recent[member]; ok {
		return false
	}
	c.inFlight[member] = struct{}{}
	return true
}

func (c *Coordinator) release(member string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, member)
	c.recent[member] = c.now()
}

// InFlight reports whether member is being fetched right now.
func (c *Coordinator) InFlight(member string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[member]
	return ok
}

// Forget clears the cooldown of member so the next sweep fetches it again.
func (c *Coordinator) Forget(member string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recent, member)
}

func (c *Coordinator) prefetchMember(ctx context.Context, member string) {
	defer c.release(member)
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			slog.Error("prefetch panicked", "member", member, "panic", r)
		}
	}()

	// a key already being fetched, usually by an interactive request, is
	// skipped rather than waited for
	person, err := c.persons.TryFetch(ctx, member, PersonFetch(c.fetcher, member))
	switch {
	case errors.Is(err, cache.ErrInFlight):
		c.skipped.Add(1)
		slog.Debug("prefetch person already being fetched", "member", member)
		return
	case err != nil:
		c.failed.Add(1)
		slog.Warn("prefetch person failed", "member", member, "error", err)
		return
	}
	c.swept.Add(1)

	for _, account := range person.Accounts {
		if account.Number == "" {
			continue
		}
		key := AccountKey{Member: member, Account: account.Number}
		_, err := c.transactions.TryFetch(ctx, key, TransactionsFetch(c.fetcher, account.Number, c.limit))
		if err != nil && !errors.Is(err, cache.ErrInFlight) {
			slog.Warn("prefetch transactions failed", "member", member, "account", account.Number, "error", err)
		}
	}
}

// PersonFetch returns the cache fetch function for a member. Interactive
// lookups use it too, so both paths populate the cache the same way.
func PersonFetch(f Fetcher, member string) cache.FetchFunc[*dna.Person] {
	return func(ctx context.Context) (*dna.Person, error) {
		person, err := f.FetchPersonByMemberNumber(ctx, member)
		if err != nil {
			return nil, fmt.Errorf("fetching member %s: %w", member, err)
		}
		return person, nil
	}
}

// TransactionsFetch returns the cache fetch function for an account.
func TransactionsFetch(f Fetcher, account string, limit int) cache.FetchFunc[[]dna.Transaction] {
	return func(ctx context.Context) ([]dna.Transaction, error) {
		txs, err := f.FetchTransactions(ctx, account, limit)
		if err != nil {
			return nil, fmt.Errorf("fetching transactions of account %s: %w", account, err)
		}
		return txs, nil
	}
}
