package recurrence

import "github.com/samber/mo"

// =============================================================================
// STATUS VIEW - Presentation status derived on every read
// =============================================================================

type StatusTag string

const (
	TagUndated   StatusTag = "undated"
	TagOverdue   StatusTag = "overdue"
	TagDueSoon   StatusTag = "due_soon"
	TagOnTime    StatusTag = "on_time"
	TagPaid      StatusTag = "paid"
	TagCancelled StatusTag = "cancelled"
)

// DefaultDueSoonWindow is how many days ahead still count as "due soon".
const DefaultDueSoonWindow = 3

// Present derives the presentation status. It depends on today, so it is
// never persisted.
//
// A non-pending obligation shows its terminal state. A pending one is
// undated without a due date, overdue before today, due_soon from today
// through today+window, and on_time after that.
func Present(due mo.Option[Date], status Status, today Date, window int) StatusTag {
	switch status {
	case StatusPaid:
		return TagPaid
	case StatusCancelled:
		return TagCancelled
	}

	d, ok := due.Get()
	if !ok || d.IsZero() {
		return TagUndated
	}
	if d.Before(today) {
		return TagOverdue
	}
	if window < 0 {
		window = 0
	}
	if today.DaysUntil(d) <= window {
		return TagDueSoon
	}
	return TagOnTime
}
