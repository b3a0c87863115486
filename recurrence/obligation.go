package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ObligationID string
type SeriesID string

func NewObligationID() ObligationID { return ObligationID(uuid.NewString()) }
func NewSeriesID() SeriesID         { return SeriesID(uuid.NewString()) }

// =============================================================================
// KIND / STATUS
// =============================================================================

// Kind distinguishes payables from receivables. The engine treats both the same.
type Kind string

const (
	KindPayable    Kind = "payable"
	KindReceivable Kind = "receivable"
)

func (k Kind) IsValid() bool { return k == KindPayable || k == KindReceivable }

// Status is the lifecycle status. Paid and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusPaid || s == StatusCancelled
}

func (s Status) IsTerminal() bool { return s == StatusPaid || s == StatusCancelled }

// =============================================================================
// OBLIGATION
// =============================================================================

// Obligation is one amount owed (or receivable) on a due date.
//
// Series bookkeeping:
//   - SeriesID and ParentID are empty for standalone obligations.
//   - Position is the 1-based slot in the generated sequence (anchor = 1).
//   - SeriesSize is how many members the generation intended; every member
//     carries it so an incomplete series is detectable from any member.
//   - InstallmentIndex is set only for installments series.
type Obligation struct {
	ID               ObligationID
	Kind             Kind
	SeriesID         SeriesID
	ParentID         ObligationID
	Position         int
	SeriesSize       int
	InstallmentIndex int

	DueDate  Date
	Value    decimal.Decimal
	Currency string
	Status   Status
	Rule     RuleRecord

	// Opaque payload, copied verbatim to every member.
	Payee          string
	Category       string
	DocumentNumber string
	Notes          string
	Attributes     map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o Obligation) IsStandalone() bool { return o.SeriesID == "" }
func (o Obligation) IsAnchor() bool     { return o.SeriesID != "" && o.ParentID == "" }
func (o Obligation) IsPending() bool    { return o.Status == StatusPending }

// Due returns the due date, or None when the obligation is undated.
func (o Obligation) Due() mo.Option[Date] {
	if o.DueDate.IsZero() {
		return mo.None[Date]()
	}
	return mo.Some(o.DueDate)
}

// Clone returns a copy that shares no maps with o.
func (o Obligation) Clone() Obligation {
	c := o
	if o.Attributes != nil {
		c.Attributes = make(map[string]string, len(o.Attributes))
		for k, v := range o.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// SortSeries orders members by due date, then installment index, then position.
func SortSeries(members []Obligation) {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.InstallmentIndex != b.InstallmentIndex {
			return a.InstallmentIndex < b.InstallmentIndex
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// =============================================================================
// SCOPE - Breadth of a series edit/delete
// =============================================================================

type Scope int

const (
	ScopeCurrent Scope = iota + 1 // only the obligation being looked at
	ScopeFuture                   // this and every later pending member
	ScopeAll                      // every pending member
)

func (s Scope) String() string {
	switch s {
	case ScopeCurrent:
		return "current"
	case ScopeFuture:
		return "future"
	case ScopeAll:
		return "all"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

func ParseScope(s string) (Scope, error) {
	switch s {
	case "current":
		return ScopeCurrent, nil
	case "future":
		return ScopeFuture, nil
	case "all":
		return ScopeAll, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

func (s Scope) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Scope) UnmarshalText(b []byte) error {
	parsed, err := ParseScope(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// PATCH - Partial edit of non-lifecycle fields
// =============================================================================

// Patch lists the fields an edit changes. Absent options are left alone.
//
// Rule may be supplied by clients that echo the whole form back; it must
// match the series rule, since frequency-defining fields cannot change once
// a series exists.
type Patch struct {
	Value          mo.Option[decimal.Decimal]   `json:"value"`
	DueDate        mo.Option[Date]              `json:"due_date"`
	Payee          mo.Option[string]            `json:"payee"`
	Category       mo.Option[string]            `json:"category"`
	DocumentNumber mo.Option[string]            `json:"document_number"`
	Notes          mo.Option[string]            `json:"notes"`
	Attributes     mo.Option[map[string]string] `json:"attributes"`
	Rule           mo.Option[RuleRecord]        `json:"rule"`
}

func (p Patch) IsEmpty() bool {
	return !p.Value.IsPresent() && !p.DueDate.IsPresent() && !p.Payee.IsPresent() &&
		!p.Category.IsPresent() && !p.DocumentNumber.IsPresent() && !p.Notes.IsPresent() &&
		!p.Attributes.IsPresent()
}

// Apply returns o with the patch applied.
func (p Patch) Apply(o Obligation) Obligation {
	out := o.Clone()
	if v, ok := p.Value.Get(); ok {
		out.Value = v
	}
	if v, ok := p.DueDate.Get(); ok {
		out.DueDate = v
	}
	if v, ok := p.Payee.Get(); ok {
		out.Payee = v
	}
	if v, ok := p.Category.Get(); ok {
		out.Category = v
	}
	if v, ok := p.DocumentNumber.Get(); ok {
		out.DocumentNumber = v
	}
	if v, ok := p.Notes.Get(); ok {
		out.Notes = v
	}
	if v, ok := p.Attributes.Get(); ok {
		out.Attributes = make(map[string]string, len(v))
		for k, val := range v {
			out.Attributes[k] = val
		}
	}
	return out
}

// =============================================================================
// SERIES
// =============================================================================

// Series is the result of a generation: the anchor plus its members.
type Series struct {
	ID      SeriesID
	Anchor  Obligation
	Members []Obligation
}

// MemberIDs returns the ids of every member after the anchor.
func (s Series) MemberIDs() []ObligationID {
	ids := make([]ObligationID, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// All returns anchor + members in sequence order.
func (s Series) All() []Obligation {
	return append([]Obligation{s.Anchor}, s.Members...)
}
