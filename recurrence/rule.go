/*
Package recurrence implements the recurring obligation engine.

PURPOSE:
  Turns one user-entered obligation (account payable or receivable) into a
  series of future obligations according to a recurrence rule, and applies
  scoped edits/deletes to that series without touching settled members.

KEY CONCEPTS IN THIS FILE (rule.go):
  - Frequency: the eight supported recurrence shapes
  - Rule: sum type, one variant per frequency
  - Params: loose, pointer-based shape used only at the edges (JSON, CLI)

WHY A SUM TYPE?
  Each frequency needs a different subset of parameters. With one variant
  per frequency, a monthly rule simply has no weekday field, so illegal
  combinations cannot be built. Params exists only to carry user input to
  the Validator and BuildRule.

EXAMPLE:
  rule, err := recurrence.BuildRule(recurrence.FrequencyMonthly, recurrence.Params{DayOfMonth: recurrence.IntPtr(31)})
  dates := recurrence.Sequence(recurrence.MustParseDate("2024-01-31"), rule, 3)
  // [2024-01-31 2024-02-29 2024-03-31]

SEE ALSO:
  - validate.go: Validator
  - sequence.go: DateSequencer
  - generator.go, mutator.go: series persistence
*/
package recurrence

import (
	"time"
)

// =============================================================================
// FREQUENCY
// =============================================================================

type Frequency string

const (
	FrequencyUnique       Frequency = "unique"
	FrequencyWeekly       Frequency = "weekly"
	FrequencyBiweekly     Frequency = "biweekly"
	FrequencyMonthly      Frequency = "monthly"
	FrequencyQuarterly    Frequency = "quarterly"
	FrequencySemiannual   Frequency = "semiannual"
	FrequencyAnnual       Frequency = "annual"
	FrequencyInstallments Frequency = "installments"
)

// Frequencies lists every supported frequency in presentation order.
var Frequencies = []Frequency{
	FrequencyUnique,
	FrequencyWeekly,
	FrequencyBiweekly,
	FrequencyMonthly,
	FrequencyQuarterly,
	FrequencySemiannual,
	FrequencyAnnual,
	FrequencyInstallments,
}

func (f Frequency) IsValid() bool {
	for _, known := range Frequencies {
		if f == known {
			return true
		}
	}
	return false
}

// OpenEnded reports whether the frequency has no natural end and therefore
// needs a generation horizon.
func (f Frequency) OpenEnded() bool {
	return f != FrequencyUnique && f != FrequencyInstallments
}

// Limits for rule parameters.
const (
	MinInstallments = 2
	MaxInstallments = 120
)

// =============================================================================
// PARAMS - Loose input shape
// =============================================================================

// Params carries unvalidated rule parameters. Nil means "absent".
type Params struct {
	DayOfWeek        *int `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
	DayOfMonth       *int `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	InstallmentCount *int `json:"installment_count,omitempty" yaml:"installment_count,omitempty"`
	InstallmentDay   *int `json:"installment_day,omitempty" yaml:"installment_day,omitempty"`
}

func IntPtr(v int) *int { return &v }

// =============================================================================
// RULE - Sum type
// =============================================================================

// Rule is a validated recurrence rule. The set of variants is closed.
type Rule interface {
	Frequency() Frequency
	// Params returns the persisted shape with exactly the relevant fields set.
	Params() Params
	isRule()
}

type Unique struct{}

type Weekly struct{ Weekday time.Weekday }

// Biweekly stores the weekday the user picked even though the sequence
// steps from the start date (see Sequence).
type Biweekly struct{ Weekday time.Weekday }

type Monthly struct{ Day int }

type Quarterly struct{ Day int }

type Semiannual struct{ Day int }

type Annual struct{ Day int }

type Installments struct {
	Count int
	Day   int
}

func (Unique) Frequency() Frequency       { return FrequencyUnique }
func (Weekly) Frequency() Frequency       { return FrequencyWeekly }
func (Biweekly) Frequency() Frequency     { return FrequencyBiweekly }
func (Monthly) Frequency() Frequency      { return FrequencyMonthly }
func (Quarterly) Frequency() Frequency    { return FrequencyQuarterly }
func (Semiannual) Frequency() Frequency   { return FrequencySemiannual }
func (Annual) Frequency() Frequency       { return FrequencyAnnual }
func (Installments) Frequency() Frequency { return FrequencyInstallments }

func (Unique) Params() Params       { return Params{} }
func (r Weekly) Params() Params     { return Params{DayOfWeek: IntPtr(int(r.Weekday))} }
func (r Biweekly) Params() Params   { return Params{DayOfWeek: IntPtr(int(r.Weekday))} }
func (r Monthly) Params() Params    { return Params{DayOfMonth: IntPtr(r.Day)} }
func (r Quarterly) Params() Params  { return Params{DayOfMonth: IntPtr(r.Day)} }
func (r Semiannual) Params() Params { return Params{DayOfMonth: IntPtr(r.Day)} }
func (r Annual) Params() Params     { return Params{DayOfMonth: IntPtr(r.Day)} }
func (r Installments) Params() Params {
	return Params{InstallmentCount: IntPtr(r.Count), InstallmentDay: IntPtr(r.Day)}
}

func (Unique) isRule()       {}
func (Weekly) isRule()       {}
func (Biweekly) isRule()     {}
func (Monthly) isRule()      {}
func (Quarterly) isRule()    {}
func (Semiannual) isRule()   {}
func (Annual) isRule()       {}
func (Installments) isRule() {}

// BuildRule validates frequency+params and returns the matching variant.
// Invalid input yields a *ValidationError carrying every defect.
func BuildRule(frequency Frequency, p Params) (Rule, error) {
	if res := Validate(frequency, p); !res.Valid {
		return nil, &ValidationError{Frequency: frequency, Errors: res.Errors}
	}
	switch frequency {
	case FrequencyUnique:
		return Unique{}, nil
	case FrequencyWeekly:
		return Weekly{Weekday: time.Weekday(*p.DayOfWeek)}, nil
	case FrequencyBiweekly:
		return Biweekly{Weekday: time.Weekday(*p.DayOfWeek)}, nil
	case FrequencyMonthly:
		return Monthly{Day: *p.DayOfMonth}, nil
	case FrequencyQuarterly:
		return Quarterly{Day: *p.DayOfMonth}, nil
	case FrequencySemiannual:
		return Semiannual{Day: *p.DayOfMonth}, nil
	case FrequencyAnnual:
		return Annual{Day: *p.DayOfMonth}, nil
	case FrequencyInstallments:
		return Installments{Count: *p.InstallmentCount, Day: *p.InstallmentDay}, nil
	}
	return nil, &ValidationError{Frequency: frequency, Errors: []string{msgInvalidType}}
}

// RulesEqual compares two rules by frequency and parameters.
func RulesEqual(a, b Rule) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Frequency() == b.Frequency() && paramsEqual(a.Params(), b.Params())
}

func paramsEqual(a, b Params) bool {
	return intPtrEqual(a.DayOfWeek, b.DayOfWeek) &&
		intPtrEqual(a.DayOfMonth, b.DayOfMonth) &&
		intPtrEqual(a.InstallmentCount, b.InstallmentCount) &&
		intPtrEqual(a.InstallmentDay, b.InstallmentDay)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// =============================================================================
// PERSISTED SHAPE
// =============================================================================

// RuleRecord is how a rule is stored on every obligation: a structured
// object with the frequency and exactly its relevant parameters.
type RuleRecord struct {
	Frequency Frequency `json:"frequency"`
	Params
}

func RecordOf(r Rule) RuleRecord {
	if r == nil {
		return RuleRecord{Frequency: FrequencyUnique}
	}
	return RuleRecord{Frequency: r.Frequency(), Params: r.Params()}
}

// Rule converts the record back to the sum type.
func (rr RuleRecord) Rule() (Rule, error) {
	return BuildRule(rr.Frequency, rr.Params)
}
