// Package queue reads and updates the kiosk check-in queue.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Check-in statuses. Entries without a status count as waiting.
const (
	StatusWaiting = "Waiting"
	StatusHandled = "Handled"
)

// SourceManualEntry marks a member number typed in by a teller.
const SourceManualEntry = "manual_entry"

// ErrNotFound is returned when no check-in has the requested id.
var ErrNotFound = errors.New("queue: check-in not found")

// Entry is one kiosk check-in.
type Entry struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	HelpTopic            string    `json:"help_topic,omitempty"`
	SubIssue             string    `json:"sub_issue,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	Status               string    `json:"status"`
	MemberNumber         string    `json:"member_number,omitempty"`
	OriginalMemberNumber string    `json:"original_member_number,omitempty"`
	MemberNumberSource   string    `json:"member_number_source,omitempty"`
}

// Waiting reports whether the entry is still in the queue.
func (e *Entry) Waiting() bool {
	return e.Status == "" || strings.EqualFold(e.Status, StatusWaiting)
}

// Overridden reports whether the member number was replaced by a teller.
func (e *Entry) Overridden() bool {
	return e.MemberNumberSource != ""
}

// Store is the persistence contract of the queue.
type Store interface {
	// Add records a new waiting check-in and returns it with its id.
	Add(ctx context.Context, entry Entry) (*Entry, error)
	// Waiting lists waiting check-ins, oldest first.
	Waiting(ctx context.Context) ([]Entry, error)
	// Handled lists handled check-ins, newest first.
	Handled(ctx context.Context) ([]Entry, error)
	WaitingCount(ctx context.Context) (int, error)
	Get(ctx context.Context, id int64) (*Entry, error)
	// SetMemberNumber replaces the member number. The number recorded at
	// check-in is kept so RevertMemberNumber can restore it.
	SetMemberNumber(ctx context.Context, id int64, number, source string) error
	RevertMemberNumber(ctx context.Context, id int64) error
	MarkHandled(ctx context.Context, id int64) error
}

// MemberNumbers returns the distinct non-empty member numbers of entries in
// queue order.
func MemberNumbers(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.MemberNumber == "" {
			continue
		}
		if _, ok := seen[e.MemberNumber]; ok {
			continue
		}
		seen[e.MemberNumber] = struct{}{}
		out = append(out, e.MemberNumber)
	}
	return out
}
