package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/kiosklab/corelink/pkg/loans"
	"github.com/kiosklab/corelink/pkg/prefetch"
	"github.com/kiosklab/corelink/pkg/queue"
	"github.com/kiosklab/corelink/pkg/upstream"
	"golang.org/x/sync/errgroup"
)

// DetailsState tells the view why person details are or are not shown.
type DetailsState string

const (
	DetailsNoMemberNumber DetailsState = "no_member_number"
	DetailsUnavailable    DetailsState = "unavailable"
	DetailsNotFound       DetailsState = "not_found"
	DetailsOK             DetailsState = "ok"
)

// AccountsState tells whether the person holds any accounts.
type AccountsState string

const (
	AccountsNone AccountsState = "none"
	AccountsOK   AccountsState = "ok"
)

// LoansState tells whether loans could be listed.
type LoansState string

const (
	LoansDisabled    LoansState = "disabled"
	LoansUnavailable LoansState = "unavailable"
	LoansNone        LoansState = "none"
	LoansOK          LoansState = "ok"
)

// ErrInvalidMemberNumber is returned for member numbers that are not all
// digits.
var ErrInvalidMemberNumber = errors.New("member number must contain digits only")

// MemberView is everything the desk shows for one check-in.
type MemberView struct {
	Entry         queue.Entry                  `json:"entry"`
	DetailsState  DetailsState                 `json:"details_state"`
	Reason        string                       `json:"reason,omitempty"`
	Person        *dna.Person                  `json:"person,omitempty"`
	Age           int                          `json:"age,omitempty"`
	AccountsState AccountsState                `json:"accounts_state,omitempty"`
	Transactions  map[string][]dna.Transaction `json:"transactions,omitempty"`
	// TransactionErrors holds the reason per account whose history failed.
	TransactionErrors map[string]string `json:"transaction_errors,omitempty"`
	LoansState        LoansState        `json:"loans_state,omitempty"`
	Loans             []loans.Loan      `json:"loans,omitempty"`
}

// Member builds the view of a check-in. Upstream failures are reported in
// the view; only queue errors are returned.
func (s *Service) Member(ctx context.Context, id int64) (*MemberView, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &MemberView{Entry: *entry}

	member := entry.MemberNumber
	if member == "" {
		view.DetailsState = DetailsNoMemberNumber
		return view, nil
	}

	person, err := s.persons.GetOrFetch(ctx, member, prefetch.PersonFetch(s.core, member))
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		view.DetailsState = DetailsNotFound
		view.Reason = fmt.Sprintf("No record found for member number %s.", member)
		return view, nil
	case err != nil:
		slog.Warn("member details unavailable", "checkin", id, "member", member, "kind", upstream.Kind(err), "error", err)
		view.DetailsState = DetailsUnavailable
		view.Reason = reason(err)
		return view, nil
	}

	view.DetailsState = DetailsOK
	view.Person = person
	if age, ok := person.Age(s.now()); ok {
		view.Age = age
	}

	view.AccountsState = AccountsNone
	if len(person.Accounts) > 0 {
		view.AccountsState = AccountsOK
		view.Transactions, view.TransactionErrors = s.accountTransactions(ctx, member, person.Accounts)
	}
	view.LoansState, view.Loans = s.memberLoans(ctx, member, person)
	return view, nil
}

func (s *Service) accountTransactions(ctx context.Context, member string, accounts []dna.Account) (map[string][]dna.Transaction, map[string]string) {
	var (
		mu     sync.Mutex
		result = make(map[string][]dna.Transaction, len(accounts))
		errs   map[string]string
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.PrefetchWorkers)
	for _, account := range accounts {
		if account.Number == "" {
			continue
		}
		g.Go(func() error {
			key := prefetch.AccountKey{Member: member, Account: account.Number}
			txs, err := s.transactions.GetOrFetch(ctx, key, prefetch.TransactionsFetch(s.core, account.Number, s.cfg.TransactionLimit))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("transactions unavailable", "member", member, "account", account.Number, "error", err)
				if errs == nil {
					errs = make(map[string]string)
				}
				errs[account.Number] = reason(err)
				return nil
			}
			result[account.Number] = txs
			return nil
		})
	}
	g.Wait()
	return result, errs
}

func (s *Service) memberLoans(ctx context.Context, member string, person *dna.Person) (LoansState, []loans.Loan) {
	if s.loans == nil {
		return LoansDisabled, nil
	}
	if person.TaxID == "" {
		return LoansNone, nil
	}
	list, err := s.loanCache.GetOrFetch(ctx, member, func(ctx context.Context) ([]loans.Loan, error) {
		return s.loans.FetchLoansBySSN(ctx, person.TaxID)
	})
	if err != nil {
		slog.Warn("loans unavailable", "member", member, "error", err)
		return LoansUnavailable, nil
	}
	if len(list) == 0 {
		return LoansNone, list
	}
	return LoansOK, list
}

// UpdateMemberNumber replaces the member number of a check-in with one
// entered by a teller and returns the refreshed view.
func (s *Service) UpdateMemberNumber(ctx context.Context, id int64, number string) (*MemberView, error) {
	number = strings.TrimSpace(number)
	if !isDigits(number) {
		return nil, ErrInvalidMemberNumber
	}
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetMemberNumber(ctx, id, number, queue.SourceManualEntry); err != nil {
		return nil, fmt.Errorf("updating member number: %w", err)
	}
	slog.Info("member number updated", "checkin", id, "previous", entry.MemberNumber, "member", number)

	s.forgetMember(entry.MemberNumber)
	s.forgetMember(number)
	s.forgetInsights(id)
	return s.Member(ctx, id)
}

// RevertMemberNumber restores the member number recorded at check-in and
// returns the refreshed view.
func (s *Service) RevertMemberNumber(ctx context.Context, id int64) (*MemberView, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.RevertMemberNumber(ctx, id); err != nil {
		return nil, fmt.Errorf("reverting member number: %w", err)
	}
	slog.Info("member number reverted", "checkin", id, "previous", entry.MemberNumber, "member", entry.OriginalMemberNumber)

	s.forgetMember(entry.MemberNumber)
	s.forgetInsights(id)
	return s.Member(ctx, id)
}

// reason renders an upstream error for a teller.
func reason(err error) string {
	switch upstream.Kind(err) {
	case "auth":
		return "Could not sign on to the core system."
	case "rejected":
		var rejected *upstream.UpstreamRejected
		if errors.As(err, &rejected) && rejected.Reason != "" {
			return "The core system rejected the request: " + rejected.Reason
		}
		return "The core system rejected the request."
	case "parse":
		return "The core system returned a response that could not be read."
	case "transport":
		return "The core system could not be reached."
	default:
		return "The core system is unavailable."
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
