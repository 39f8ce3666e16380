package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/kiosklab/corelink/pkg/insight"
	"github.com/kiosklab/corelink/pkg/prefetch"
)

// InsightStatus is the progress of insight generation for a check-in.
type InsightStatus string

const (
	InsightPending InsightStatus = "pending"
	InsightDone    InsightStatus = "done"
)

// InsightView is the answer to an insight poll.
type InsightView struct {
	Status InsightStatus `json:"status"`
	Lines  []string      `json:"insights,omitempty"`
}

var errNoInsights = errors.New("insight generation is not configured")

// Insights returns the insights of a check-in, starting their generation in
// the background on the first poll. Callers poll until Status is done.
func (s *Service) Insights(ctx context.Context, id int64) (*InsightView, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.MemberNumber == "" {
		return &InsightView{Status: InsightDone, Lines: []string{insight.NoMemberText}}, nil
	}
	if lines, ok := s.insights.Get(id); ok {
		return &InsightView{Status: InsightDone, Lines: lines}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a failure is reported once; the next poll starts over
	if _, ok := s.failed[id]; ok {
		delete(s.failed, id)
		return &InsightView{Status: InsightDone, Lines: []string{insight.FailureText}}, nil
	}
	if _, ok := s.pending[id]; ok {
		return &InsightView{Status: InsightPending}, nil
	}

	member := entry.MemberNumber
	s.pending[id] = struct{}{}
	started := s.insightPool.TryGo(func() error {
		s.generateInsights(context.WithoutCancel(ctx), id, member)
		return nil
	})
	if !started {
		// pool is full; the next poll tries again
		delete(s.pending, id)
	}
	return &InsightView{Status: InsightPending}, nil
}

func (s *Service) generateInsights(ctx context.Context, id int64, member string) {
	_, err := s.insights.GetOrFetch(ctx, id, func(ctx context.Context) ([]string, error) {
		return s.buildInsights(ctx, member)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	if err != nil {
		slog.Warn("insight generation failed", "checkin", id, "member", member, "error", err)
		s.failed[id] = struct{}{}
	}
}

func (s *Service) buildInsights(ctx context.Context, member string) ([]string, error) {
	if s.generator == nil {
		return nil, errNoInsights
	}
	person, err := s.persons.GetOrFetch(ctx, member, prefetch.PersonFetch(s.core, member))
	if err != nil {
		return nil, err
	}

	var all []dna.Transaction
	for _, account := range person.Accounts {
		if account.Number == "" {
			continue
		}
		key := prefetch.AccountKey{Member: member, Account: account.Number}
		txs, err := s.transactions.GetOrFetch(ctx, key, prefetch.TransactionsFetch(s.core, account.Number, s.cfg.TransactionLimit))
		if err != nil {
			return nil, fmt.Errorf("loading transactions for insights: %w", err)
		}
		all = append(all, txs...)
	}

	recent := insight.FilterRecent(all, s.now(), s.cfg.InsightWindow)
	if len(recent) == 0 {
		return []string{insight.NoTransactionText}, nil
	}
	return s.generator.Generate(ctx, recent)
}

// forgetInsights drops cached insights and any unreported failure.
func (s *Service) forgetInsights(id int64) {
	s.insights.Invalidate(id)
	s.mu.Lock()
	delete(s.failed, id)
	s.mu.Unlock()
}
