package recurrence

import "fmt"

// =============================================================================
// VALIDATOR - Pure rule completeness check
// =============================================================================

const msgInvalidType = "invalid recurrence type"

// Result is the outcome of Validate. Errors is never nil when Valid is false.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate reports whether frequency+params form a complete, usable rule.
// It has no side effects: the same input always yields the same defects,
// in the same order.
func Validate(frequency Frequency, p Params) Result {
	var errs []string

	switch frequency {
	case FrequencyUnique:
		// Nothing required.

	case FrequencyWeekly, FrequencyBiweekly:
		switch {
		case p.DayOfWeek == nil:
			errs = append(errs, fmt.Sprintf("day of week is required for %s recurrence", frequency))
		case *p.DayOfWeek < 0 || *p.DayOfWeek > 6:
			errs = append(errs, "day of week must be between 0 (Sunday) and 6 (Saturday)")
		}

	case FrequencyMonthly, FrequencyQuarterly, FrequencySemiannual, FrequencyAnnual:
		switch {
		case p.DayOfMonth == nil:
			errs = append(errs, fmt.Sprintf("day of month is required for %s recurrence", frequency))
		case *p.DayOfMonth < 1 || *p.DayOfMonth > 31:
			errs = append(errs, "day of month must be between 1 and 31")
		}

	case FrequencyInstallments:
		switch {
		case p.InstallmentCount == nil:
			errs = append(errs, "installment count is required for installments recurrence")
		case *p.InstallmentCount < MinInstallments || *p.InstallmentCount > MaxInstallments:
			errs = append(errs, fmt.Sprintf("installment count must be between %d and %d", MinInstallments, MaxInstallments))
		}
		switch {
		case p.InstallmentDay == nil:
			errs = append(errs, "installment day is required for installments recurrence")
		case *p.InstallmentDay < 1 || *p.InstallmentDay > 31:
			errs = append(errs, "installment day must be between 1 and 31")
		}

	default:
		errs = append(errs, msgInvalidType)
	}
	errs = append(errs, strayParams(frequency, p)...)

	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs}
	}
	return Result{Valid: true, Errors: []string{}}
}

// strayParams reports every populated field the frequency does not use, so a
// payload carries exactly the fields relevant to its frequency.
func strayParams(frequency Frequency, p Params) []string {
	var used struct{ dayOfWeek, dayOfMonth, installments bool }
	switch frequency {
	case FrequencyUnique:
	case FrequencyWeekly, FrequencyBiweekly:
		used.dayOfWeek = true
	case FrequencyMonthly, FrequencyQuarterly, FrequencySemiannual, FrequencyAnnual:
		used.dayOfMonth = true
	case FrequencyInstallments:
		used.installments = true
	default:
		return nil
	}

	var errs []string
	stray := func(set, allowed bool, field string) {
		if set && !allowed {
			errs = append(errs, fmt.Sprintf("%s is not used by %s recurrence", field, frequency))
		}
	}
	stray(p.DayOfWeek != nil, used.dayOfWeek, "day of week")
	stray(p.DayOfMonth != nil, used.dayOfMonth, "day of month")
	stray(p.InstallmentCount != nil, used.installments, "installment count")
	stray(p.InstallmentDay != nil, used.installments, "installment day")
	return errs
}
