package recurrence

// =============================================================================
// DATE SEQUENCER - Due dates for a rule
// =============================================================================

// Sequence returns up to maxItems due dates for rule starting at start.
//
// It is pure and deterministic: previews and series generation both call it,
// so what a user previews is exactly what gets persisted.
//
//   - weekly: first date is the next day (start included) falling on the
//     rule's weekday, then every 7 days.
//   - biweekly: start, start+14, start+28... The weekday is not used to
//     re-anchor.
//   - monthly/quarterly/semiannual: start month shifted by i, 3i, 6i months,
//     day clamped to the month length. The first date may fall before start
//     when the rule day is earlier in the month than start.
//   - annual: start year shifted by i, same month, day clamped.
//   - installments: min(count, maxItems) dates, monthly, clamped.
//   - unique: start only.
func Sequence(start Date, rule Rule, maxItems int) []Date {
	if maxItems <= 0 || rule == nil {
		return []Date{}
	}

	switch r := rule.(type) {
	case Unique:
		return []Date{start}

	case Weekly:
		anchor := start
		for anchor.Weekday() != r.Weekday {
			anchor = anchor.AddDays(1)
		}
		return everyNDays(anchor, 7, maxItems)

	case Biweekly:
		return everyNDays(start, 14, maxItems)

	case Monthly:
		return everyNMonths(start, 1, r.Day, maxItems)

	case Quarterly:
		return everyNMonths(start, 3, r.Day, maxItems)

	case Semiannual:
		return everyNMonths(start, 6, r.Day, maxItems)

	case Annual:
		dates := make([]Date, 0, maxItems)
		for i := 0; i < maxItems; i++ {
			dates = append(dates, start.ShiftYears(i, r.Day))
		}
		return dates

	case Installments:
		n := r.Count
		if maxItems < n {
			n = maxItems
		}
		return everyNMonths(start, 1, r.Day, n)
	}

	return []Date{}
}

func everyNDays(from Date, step, n int) []Date {
	dates := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, from.AddDays(i*step))
	}
	return dates
}

func everyNMonths(from Date, step, day, n int) []Date {
	dates := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, from.ShiftMonths(i*step, day))
	}
	return dates
}

// SeriesLength is how many obligations a generation of rule produces.
// horizon applies to open-ended frequencies only.
func SeriesLength(rule Rule, horizon int) int {
	switch r := rule.(type) {
	case nil:
		return 0
	case Unique:
		return 1
	case Installments:
		return r.Count
	default:
		if horizon < 1 {
			return 1
		}
		return horizon
	}
}
