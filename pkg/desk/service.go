// Package desk composes the queue, the core-banking client and the caches
// into the views the teller desk works with.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiosklab/corelink/pkg/cache"
	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/kiosklab/corelink/pkg/insight"
	"github.com/kiosklab/corelink/pkg/loans"
	"github.com/kiosklab/corelink/pkg/prefetch"
	"github.com/kiosklab/corelink/pkg/queue"
	"golang.org/x/sync/errgroup"
)

// Config holds cache lifetimes, capacities and pool sizes. Zero values
// select the defaults.
type Config struct {
	PersonTTL          time.Duration `yaml:"person_ttl"`
	PersonEntries      int           `yaml:"person_entries"`
	TransactionTTL     time.Duration `yaml:"transaction_ttl"`
	TransactionEntries int           `yaml:"transaction_entries"`
	InsightTTL         time.Duration `yaml:"insight_ttl"`
	InsightEntries     int           `yaml:"insight_entries"`
	LoanTTL            time.Duration `yaml:"loan_ttl"`
	LoanEntries        int           `yaml:"loan_entries"`

	TransactionLimit int           `yaml:"transaction_limit"`
	AccountLimit     int           `yaml:"account_lookup_limit"`
	InsightWindow    time.Duration `yaml:"insight_window"`
	InsightWorkers   int           `yaml:"insight_workers"`

	// set from the prefetch section of the config file
	PrefetchWorkers  int           `yaml:"-"`
	PrefetchCooldown time.Duration `yaml:"-"`
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	return Config{
		PersonTTL:          time.Hour,
		PersonEntries:      500,
		TransactionTTL:     10 * time.Minute,
		TransactionEntries: 2000,
		InsightTTL:         10 * time.Minute,
		InsightEntries:     200,
		LoanTTL:            10 * time.Minute,
		LoanEntries:        500,
		TransactionLimit:   prefetch.DefaultTransactionLimit,
		AccountLimit:       dna.DefaultTransactionLimit,
		InsightWindow:      insight.DefaultWindow,
		InsightWorkers:     2,
		PrefetchWorkers:    prefetch.DefaultWorkers,
		PrefetchCooldown:   prefetch.DefaultCooldown,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	orDuration := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	orInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	orDuration(&c.PersonTTL, d.PersonTTL)
	orInt(&c.PersonEntries, d.PersonEntries)
	orDuration(&c.TransactionTTL, d.TransactionTTL)
	orInt(&c.TransactionEntries, d.TransactionEntries)
	orDuration(&c.InsightTTL, d.InsightTTL)
	orInt(&c.InsightEntries, d.InsightEntries)
	orDuration(&c.LoanTTL, d.LoanTTL)
	orInt(&c.LoanEntries, d.LoanEntries)
	orInt(&c.TransactionLimit, d.TransactionLimit)
	orInt(&c.AccountLimit, d.AccountLimit)
	orDuration(&c.InsightWindow, d.InsightWindow)
	orInt(&c.InsightWorkers, d.InsightWorkers)
	orInt(&c.PrefetchWorkers, d.PrefetchWorkers)
	orDuration(&c.PrefetchCooldown, d.PrefetchCooldown)
	return c
}

// LoanFetcher is the subset of loans.Client the service needs.
type LoanFetcher interface {
	FetchLoansBySSN(ctx context.Context, ssn string) ([]loans.Loan, error)
	FetchLoan(ctx context.Context, loanID string) (*loans.LoanDetail, error)
}

// ErrLoansDisabled is returned by LoanDetail when no loan client is set.
var ErrLoansDisabled = errors.New("loan lookups are not configured")

// Service is constructed once and shared by all request handlers.
type Service struct {
	cfg       Config
	store     queue.Store
	core      prefetch.Fetcher
	loans     LoanFetcher
	generator insight.Generator
	now       func() time.Time

	persons      *cache.Cache[string, *dna.Person]
	transactions *cache.Cache[prefetch.AccountKey, []dna.Transaction]
	loanCache    *cache.Cache[string, []loans.Loan]
	insights     *cache.Cache[int64, []string]
	prefetcher   *prefetch.Coordinator

	insightPool errgroup.Group
	mu          sync.Mutex
	pending     map[int64]struct{}
	failed      map[int64]struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLoans enables loan lookups.
func WithLoans(l LoanFetcher) Option {
	return func(s *Service) {
		s.loans = l
	}
}

// WithInsights enables insight generation.
func WithInsights(g insight.Generator) Option {
	return func(s *Service) {
		s.generator = g
	}
}

// WithClock replaces time.Now for caches and views.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service. core is usually a *dna.Client.
func New(cfg Config, store queue.Store, core prefetch.Fetcher, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg.withDefaults(),
		store:   store,
		core:    core,
		now:     time.Now,
		pending: make(map[int64]struct{}),
		failed:  make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	clock := cache.WithClock(s.now)
	s.persons = cache.New[string, *dna.Person]("persons", s.cfg.PersonTTL,
		cache.WithMaxEntries(s.cfg.PersonEntries), clock)
	s.transactions = cache.New[prefetch.AccountKey, []dna.Transaction]("transactions", s.cfg.TransactionTTL,
		cache.WithMaxEntries(s.cfg.TransactionEntries), clock)
	s.loanCache = cache.New[string, []loans.Loan]("loans", s.cfg.LoanTTL,
		cache.WithMaxEntries(s.cfg.LoanEntries), clock)
	s.insights = cache.New[int64, []string]("insights", s.cfg.InsightTTL,
		cache.WithMaxEntries(s.cfg.InsightEntries), clock)
	s.prefetcher = prefetch.New(s.persons, s.transactions, core,
		prefetch.WithWorkers(s.cfg.PrefetchWorkers),
		prefetch.WithCooldown(s.cfg.PrefetchCooldown),
		prefetch.WithTransactionLimit(s.cfg.TransactionLimit),
		prefetch.WithClock(s.now),
	)
	s.insightPool.SetLimit(s.cfg.InsightWorkers)
	return s
}

// Wait blocks until background prefetch and insight work has finished.
func (s *Service) Wait() {
	s.prefetcher.Wait()
	s.insightPool.Wait()
}

// Dashboard is the queue overview.
type Dashboard struct {
	Waiting      []queue.Entry `json:"waiting"`
	Handled      []queue.Entry `json:"handled"`
	WaitingCount int           `json:"waiting_count"`
	Prefetching  bool          `json:"prefetching"`
}

// Dashboard lists the queue and starts a prefetch sweep over the waiting
// members.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	waiting, err := s.store.Waiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing waiting check-ins: %w", err)
	}
	handled, err := s.store.Handled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing handled check-ins: %w", err)
	}
	return &Dashboard{
		Waiting:      waiting,
		Handled:      handled,
		WaitingCount: len(waiting),
		Prefetching:  s.prefetcher.Trigger(queue.MemberNumbers(waiting)),
	}, nil
}

// CheckIn records a new waiting check-in. member may be empty.
func (s *Service) CheckIn(ctx context.Context, name, topic, subIssue, member string) (*queue.Entry, error) {
	if member != "" && !isDigits(member) {
		return nil, ErrInvalidMemberNumber
	}
	entry, err := s.store.Add(ctx, queue.Entry{
		Name:         name,
		HelpTopic:    topic,
		SubIssue:     subIssue,
		MemberNumber: member,
	})
	if err != nil {
		return nil, fmt.Errorf("adding check-in: %w", err)
	}
	slog.Info("check-in added", "checkin", entry.ID, "topic", topic)
	return entry, nil
}

// WaitingCount returns the number of waiting check-ins.
func (s *Service) WaitingCount(ctx context.Context) (int, error) {
	return s.store.WaitingCount(ctx)
}

// MarkHandled closes a check-in.
func (s *Service) MarkHandled(ctx context.Context, id int64) error {
	if err := s.store.MarkHandled(ctx, id); err != nil {
		return err
	}
	s.forgetInsights(id)
	slog.Info("check-in handled", "checkin", id)
	return nil
}

// AccountTransactions looks up the latest transactions of any account,
// bypassing the caches.
func (s *Service) AccountTransactions(ctx context.Context, account string) ([]dna.Transaction, error) {
	if account == "" {
		return nil, errors.New("account number is required")
	}
	return s.core.FetchTransactions(ctx, account, s.cfg.AccountLimit)
}

// LoanDetail fetches the type-specific details of one loan application.
func (s *Service) LoanDetail(ctx context.Context, loanID string) (*loans.LoanDetail, error) {
	if s.loans == nil {
		return nil, ErrLoansDisabled
	}
	if loanID == "" {
		return nil, errors.New("loan id is required")
	}
	return s.loans.FetchLoan(ctx, loanID)
}

// Stats are the counters of the caches and the prefetch coordinator.
type Stats struct {
	Persons      cache.Stats    `json:"persons"`
	Transactions cache.Stats    `json:"transactions"`
	Loans        cache.Stats    `json:"loans"`
	Insights     cache.Stats    `json:"insights"`
	Prefetch     prefetch.Stats `json:"prefetch"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Persons:      s.persons.Stats(),
		Transactions: s.transactions.Stats(),
		Loans:        s.loanCache.Stats(),
		Insights:     s.insights.Stats(),
		Prefetch:     s.prefetcher.Stats(),
	}
}

// forgetMember drops everything cached for a member number.
func (s *Service) forgetMember(member string) {
	if member == "" {
		return
	}
	s.persons.Invalidate(member)
	s.transactions.InvalidateFunc(func(k prefetch.AccountKey) bool {
		return k.Member == member
	})
	s.loanCache.Invalidate(member)
	s.prefetcher.Forget(member)
}
