package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// =============================================================================
// RRULE - RFC 5545 rendering of a rule
// =============================================================================

var rruleDays = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// RRule renders rule as an RFC 5545 RRULE value bounded to count occurrences.
// first is the series' first due date; expanding the value from it yields the
// same dates as Sequence.
//
// Clamped month days become BYMONTHDAY=28,...,day;BYSETPOS=-1, which picks
// the last existing day of the set: the day itself, or the month's end.
func RRule(first Date, rule Rule, count int) (string, error) {
	if count < 1 {
		return "", fmt.Errorf("rrule count must be positive, got %d", count)
	}
	var parts []string
	switch r := rule.(type) {
	case Unique:
		parts = []string{"FREQ=DAILY"}
		count = 1
	case Weekly:
		parts = []string{"FREQ=WEEKLY", "BYDAY=" + rruleDays[r.Weekday]}
	case Biweekly:
		// Biweekly repeats the first date's weekday; the rule weekday does
		// not move it.
		parts = []string{"FREQ=WEEKLY", "INTERVAL=2"}
	case Monthly:
		parts = append([]string{"FREQ=MONTHLY"}, monthDay(r.Day)...)
	case Quarterly:
		parts = append([]string{"FREQ=MONTHLY", "INTERVAL=3"}, monthDay(r.Day)...)
	case Semiannual:
		parts = append([]string{"FREQ=MONTHLY", "INTERVAL=6"}, monthDay(r.Day)...)
	case Annual:
		parts = append([]string{"FREQ=YEARLY", fmt.Sprintf("BYMONTH=%d", int(first.Month()))}, monthDay(r.Day)...)
	case Installments:
		parts = append([]string{"FREQ=MONTHLY"}, monthDay(r.Day)...)
		if r.Count < count {
			count = r.Count
		}
	default:
		return "", fmt.Errorf("%w: %T", ErrInvalidRule, rule)
	}
	parts = append(parts, fmt.Sprintf("COUNT=%d", count))
	return strings.Join(parts, ";"), nil
}

func monthDay(day int) []string {
	if day <= 28 {
		return []string{fmt.Sprintf("BYMONTHDAY=%d", day)}
	}
	days := make([]string, 0, day-27)
	for d := 28; d <= day; d++ {
		days = append(days, fmt.Sprint(d))
	}
	return []string{"BYMONTHDAY=" + strings.Join(days, ","), "BYSETPOS=-1"}
}

// ExpandRRule expands an RRULE value from first. The value must carry COUNT
// or UNTIL.
func ExpandRRule(first Date, value string) ([]Date, error) {
	if !strings.Contains(value, "COUNT=") && !strings.Contains(value, "UNTIL=") {
		return nil, fmt.Errorf("rrule %q is unbounded", value)
	}
	dtstart := first.Time().UTC().Format("20060102T150405Z")
	set, err := rrule.StrToRRuleSet(fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, value))
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", value, err)
	}
	times := set.All()
	dates := make([]Date, 0, len(times))
	for _, t := range times {
		dates = append(dates, DateOf(t.In(time.UTC)))
	}
	return dates, nil
}
