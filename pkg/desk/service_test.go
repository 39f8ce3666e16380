package desk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/kiosklab/corelink/pkg/insight"
	"github.com/kiosklab/corelink/pkg/loans"
	"github.com/kiosklab/corelink/pkg/queue"
	"github.com/kiosklab/corelink/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

type fakeCore struct {
	mu           sync.Mutex
	persons      map[string]*dna.Person
	personErr    map[string]error
	personCalls  map[string]int
	accountCalls map[string]int
	limits       []int
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		persons: map[string]*dna.Person{
			"100": {
				MemberNumber: "100", FirstName: "Ada", LastName: "Lovelace",
				DateOfBirth: "1990-06-15T00:00:00", TaxID: "123456789",
				Accounts: []dna.Account{{Number: "100-S1"}, {Number: "100-L1"}},
			},
			"200": {MemberNumber: "200", FirstName: "Bob", Accounts: []dna.Account{}},
		},
		personErr:    map[string]error{},
		personCalls:  map[string]int{},
		accountCalls: map[string]int{},
	}
}

func (f *fakeCore) FetchPersonByMemberNumber(ctx context.Context, member string) (*dna.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.personCalls[member]++
	if err := f.personErr[member]; err != nil {
		return nil, err
	}
	p, ok := f.persons[member]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return p, nil
}

func (f *fakeCore) FetchTransactions(ctx context.Context, account string, limit int) ([]dna.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls[account]++
	f.limits = append(f.limits, limit)
	if account == "100-L1" {
		return []dna.Transaction{}, nil
	}
	return []dna.Transaction{
		{Date: "2024-06-29", Description: "Coffee", Amount: "-$4.50"},
		{Date: "2024-01-02", Description: "Old", Amount: "$1.00"},
	}, nil
}

func (f *fakeCore) calls(member string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.personCalls[member]
}

type fakeLoans struct {
	loans []loans.Loan
	err   error
	ssns  []string
}

func (f *fakeLoans) FetchLoansBySSN(ctx context.Context, ssn string) ([]loans.Loan, error) {
	f.ssns = append(f.ssns, ssn)
	return f.loans, f.err
}

func (f *fakeLoans) FetchLoan(ctx context.Context, loanID string) (*loans.LoanDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &loans.LoanDetail{Number: loanID, Type: "PL", Rate: "7.25"}, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	release chan struct{}
	err     error
	got     [][]dna.Transaction
}

func (g *fakeGenerator) Generate(ctx context.Context, txs []dna.Transaction) ([]string, error) {
	if g.release != nil {
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.got = append(g.got, txs)
	if g.err != nil {
		return nil, g.err
	}
	return []string{"1. spends on coffee"}, nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *queue.MemoryStore, *fakeCore) {
	t.Helper()
	store := queue.NewMemoryStore()
	core := newFakeCore()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	s := New(Config{}, store, core, opts...)
	t.Cleanup(s.Wait)
	return s, store, core
}

func addEntry(t *testing.T, store *queue.MemoryStore, member string) int64 {
	t.Helper()
	e, err := store.Add(context.Background(), queue.Entry{Name: "Visitor", MemberNumber: member})
	require.NoError(t, err)
	return e.ID
}

func TestMemberView(t *testing.T) {
	l := &fakeLoans{loans: []loans.Loan{{ID: "abc", Type: "PL"}}}
	s, store, core := newTestService(t, WithLoans(l))
	id := addEntry(t, store, "100")

	view, err := s.Member(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, DetailsOK, view.DetailsState)
	assert.Equal(t, "Ada", view.Person.FirstName)
	assert.Equal(t, 34, view.Age)
	assert.Equal(t, AccountsOK, view.AccountsState)
	assert.Len(t, view.Transactions["100-S1"], 2)
	assert.NotNil(t, view.Transactions["100-L1"])
	assert.Empty(t, view.Transactions["100-L1"])
	assert.Empty(t, view.TransactionErrors)
	assert.Equal(t, LoansOK, view.LoansState)
	assert.Equal(t, []string{"123456789"}, l.ssns)
	for _, limit := range core.limits {
		assert.Equal(t, 50, limit)
	}

	// second view is served from the caches
	_, err = s.Member(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, core.calls("100"))
	assert.Len(t, l.ssns, 1)
}

func TestMemberViewStates(t *testing.T) {
	s, store, core := newTestService(t)
	core.personErr["300"] = &upstream.TransportError{Op: "SubmitRequest", StatusCode: 503}

	tests := []struct {
		member   string
		details  DetailsState
		accounts AccountsState
	}{
		{"", DetailsNoMemberNumber, ""},
		{"999", DetailsNotFound, ""},
		{"300", DetailsUnavailable, ""},
		{"200", DetailsOK, AccountsNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.details), func(t *testing.T) {
			view, err := s.Member(context.Background(), addEntry(t, store, tt.member))
			require.NoError(t, err)
			assert.Equal(t, tt.details, view.DetailsState)
			assert.Equal(t, tt.accounts, view.AccountsState)
			if tt.details == DetailsUnavailable || tt.details == DetailsNotFound {
				assert.NotEmpty(t, view.Reason)
			}
		})
	}

	_, err := s.Member(context.Background(), 999)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestNotFoundIsRetried(t *testing.T) {
	s, store, core := newTestService(t)
	id := addEntry(t, store, "555")

	view, err := s.Member(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, DetailsNotFound, view.DetailsState)

	core.mu.Lock()
	core.persons["555"] = &dna.Person{MemberNumber: "555", FirstName: "Late"}
	core.mu.Unlock()

	view, err = s.Member(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, DetailsOK, view.DetailsState)
	assert.Equal(t, 2, core.calls("555"))
}

func TestLoansStates(t *testing.T) {
	l := &fakeLoans{err: errors.New("timeout")}
	s, store, _ := newTestService(t, WithLoans(l))

	view, err := s.Member(context.Background(), addEntry(t, store, "100"))
	require.NoError(t, err)
	assert.Equal(t, LoansUnavailable, view.LoansState)

	l.err = nil
	l.loans = []loans.Loan{}
	view, err = s.Member(context.Background(), addEntry(t, store, "100"))
	require.NoError(t, err)
	assert.Equal(t, LoansNone, view.LoansState, "the failure was not cached")
}

func TestUpdateAndRevertMemberNumber(t *testing.T) {
	s, store, core := newTestService(t)
	id := addEntry(t, store, "100")

	_, err := s.Member(context.Background(), id)
	require.NoError(t, err)

	_, err = s.UpdateMemberNumber(context.Background(), id, "12a")
	assert.ErrorIs(t, err, ErrInvalidMemberNumber)

	view, err := s.UpdateMemberNumber(context.Background(), id, " 200 ")
	require.NoError(t, err)
	assert.Equal(t, "200", view.Entry.MemberNumber)
	assert.Equal(t, "100", view.Entry.OriginalMemberNumber)
	assert.Equal(t, "Bob", view.Person.FirstName)

	// the old member was dropped from the caches
	_, ok := s.persons.Get("100")
	assert.False(t, ok)

	view, err = s.RevertMemberNumber(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "100", view.Entry.MemberNumber)
	assert.Equal(t, "Ada", view.Person.FirstName)
	assert.Equal(t, 2, core.calls("100"))
	_, ok = s.persons.Get("200")
	assert.False(t, ok)

	_, err = s.UpdateMemberNumber(context.Background(), 999, "1")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestDashboardPrefetches(t *testing.T) {
	s, store, core := newTestService(t)
	addEntry(t, store, "100")
	addEntry(t, store, "200")
	handledID := addEntry(t, store, "")
	require.NoError(t, s.MarkHandled(context.Background(), handledID))

	dash, err := s.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dash.WaitingCount)
	assert.Len(t, dash.Handled, 1)
	assert.True(t, dash.Prefetching)
	s.Wait()

	_, ok := s.persons.Get("100")
	assert.True(t, ok)
	_, ok = s.persons.Get("200")
	assert.True(t, ok)
	assert.Equal(t, 1, core.calls("100"))
	assert.Equal(t, int64(2), s.Stats().Prefetch.Swept)
}

func TestInsights(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{})}
	s, store, _ := newTestService(t, WithInsights(gen))
	id := addEntry(t, store, "100")

	view, err := s.Insights(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightPending, view.Status)

	view, err = s.Insights(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightPending, view.Status, "a second poll does not start another generation")

	close(gen.release)
	s.Wait()

	view, err = s.Insights(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightDone, view.Status)
	assert.Equal(t, []string{"1. spends on coffee"}, view.Lines)

	gen.mu.Lock()
	require.Len(t, gen.got, 1)
	// only transactions of the last 30 days reach the generator
	for _, tx := range gen.got[0] {
		assert.Equal(t, "2024-06-29", tx.Date)
	}
	gen.mu.Unlock()

	noMember := addEntry(t, store, "")
	view, err = s.Insights(context.Background(), noMember)
	require.NoError(t, err)
	assert.Equal(t, []string{insight.NoMemberText}, view.Lines)
}

func TestInsightFailureIsReportedOnce(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model not loaded")}
	s, store, _ := newTestService(t, WithInsights(gen))
	id := addEntry(t, store, "100")

	_, err := s.Insights(context.Background(), id)
	require.NoError(t, err)
	s.Wait()

	view, err := s.Insights(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightDone, view.Status)
	assert.Equal(t, []string{insight.FailureText}, view.Lines)

	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()

	view, err = s.Insights(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightPending, view.Status)
	s.Wait()

	view, err = s.Insights(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"1. spends on coffee"}, view.Lines)
}

func TestInsightsWithoutGenerator(t *testing.T) {
	s, store, _ := newTestService(t)
	id := addEntry(t, store, "100")

	_, err := s.Insights(context.Background(), id)
	require.NoError(t, err)
	s.Wait()

	view, err := s.Insights(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{insight.FailureText}, view.Lines)
}

func TestAccountTransactions(t *testing.T) {
	s, _, core := newTestService(t)

	txs, err := s.AccountTransactions(context.Background(), "777")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.Equal(t, []int{10}, core.limits)

	_, err = s.AccountTransactions(context.Background(), "")
	assert.Error(t, err)
}

func TestLoanDetail(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.LoanDetail(context.Background(), "L-1")
	assert.ErrorIs(t, err, ErrLoansDisabled)

	s, _, _ = newTestService(t, WithLoans(&fakeLoans{}))
	detail, err := s.LoanDetail(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, "L-1", detail.Number)
	assert.Equal(t, "7.25", detail.Rate)
}

func TestCheckIn(t *testing.T) {
	s, store, _ := newTestService(t)

	entry, err := s.CheckIn(context.Background(), "Ada", "Loans", "", "100")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, entry.Status)

	_, err = s.CheckIn(context.Background(), "Bob", "Cards", "", "10a")
	assert.ErrorIs(t, err, ErrInvalidMemberNumber)

	n, err := store.WaitingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
