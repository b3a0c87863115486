package recurrence_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

func TestValidate(t *testing.T) {
	p := recurrence.IntPtr

	tests := []struct {
		name   string
		freq   recurrence.Frequency
		params recurrence.Params
		errors []string
	}{
		{
			name: "unique needs nothing",
			freq: recurrence.FrequencyUnique,
		},
		{
			name:   "unique rejects stray params",
			freq:   recurrence.FrequencyUnique,
			params: recurrence.Params{DayOfMonth: p(99)},
			errors: []string{"day of month is not used by unique recurrence"},
		},
		{
			name:   "monthly rejects weekday and installment fields",
			freq:   recurrence.FrequencyMonthly,
			params: recurrence.Params{DayOfMonth: p(5), DayOfWeek: p(3), InstallmentCount: p(500)},
			errors: []string{
				"day of week is not used by monthly recurrence",
				"installment count is not used by monthly recurrence",
			},
		},
		{
			name:   "weekly reports missing day before stray fields",
			freq:   recurrence.FrequencyWeekly,
			params: recurrence.Params{InstallmentDay: p(10)},
			errors: []string{
				"day of week is required for weekly recurrence",
				"installment day is not used by weekly recurrence",
			},
		},
		{
			name:   "unknown frequency reports only the type",
			freq:   "hourly",
			params: recurrence.Params{DayOfMonth: p(1)},
			errors: []string{"invalid recurrence type"},
		},
		{
			name:   "weekly without day of week",
			freq:   recurrence.FrequencyWeekly,
			errors: []string{"day of week is required for weekly recurrence"},
		},
		{
			name:   "biweekly day of week out of range",
			freq:   recurrence.FrequencyBiweekly,
			params: recurrence.Params{DayOfWeek: p(7)},
			errors: []string{"day of week must be between 0 (Sunday) and 6 (Saturday)"},
		},
		{
			name:   "weekly on sunday",
			freq:   recurrence.FrequencyWeekly,
			params: recurrence.Params{DayOfWeek: p(0)},
		},
		{
			name:   "monthly without day",
			freq:   recurrence.FrequencyMonthly,
			errors: []string{"day of month is required for monthly recurrence"},
		},
		{
			name:   "annual day zero",
			freq:   recurrence.FrequencyAnnual,
			params: recurrence.Params{DayOfMonth: p(0)},
			errors: []string{"day of month must be between 1 and 31"},
		},
		{
			name:   "quarterly day 31",
			freq:   recurrence.FrequencyQuarterly,
			params: recurrence.Params{DayOfMonth: p(31)},
		},
		{
			name: "installments missing everything",
			freq: recurrence.FrequencyInstallments,
			errors: []string{
				"installment count is required for installments recurrence",
				"installment day is required for installments recurrence",
			},
		},
		{
			name:   "installments count below minimum and day too high",
			freq:   recurrence.FrequencyInstallments,
			params: recurrence.Params{InstallmentCount: p(1), InstallmentDay: p(32)},
			errors: []string{
				"installment count must be between 2 and 120",
				"installment day must be between 1 and 31",
			},
		},
		{
			name:   "installments at maximum",
			freq:   recurrence.FrequencyInstallments,
			params: recurrence.Params{InstallmentCount: p(120), InstallmentDay: p(1)},
		},
		{
			name:   "unknown frequency",
			freq:   "fortnightly",
			errors: []string{"invalid recurrence type"},
		},
		{
			name:   "empty frequency",
			freq:   "",
			errors: []string{"invalid recurrence type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := recurrence.Validate(tt.freq, tt.params)

			if len(tt.errors) == 0 {
				assert.True(t, res.Valid)
				assert.Empty(t, res.Errors)
				assert.NotNil(t, res.Errors, "errors is an empty list, not null")
				return
			}
			assert.False(t, res.Valid)
			assert.Equal(t, tt.errors, res.Errors)
		})
	}
}

func TestBuildRule_ReturnsValidationError(t *testing.T) {
	// GIVEN: A monthly rule without a day
	// WHEN: Building the rule
	// THEN: A *ValidationError carrying the defect is returned

	rule, err := recurrence.BuildRule(recurrence.FrequencyMonthly, recurrence.Params{})

	assert.Nil(t, rule)
	var vErr *recurrence.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{"day of month is required for monthly recurrence"}, vErr.Errors)
	assert.True(t, errors.Is(err, recurrence.ErrInvalidRule))
	assert.True(t, recurrence.IsClientError(err))
}

func TestBuildRule_Variants(t *testing.T) {
	p := recurrence.IntPtr

	_, err := recurrence.BuildRule(recurrence.FrequencyInstallments,
		recurrence.Params{InstallmentCount: p(12), InstallmentDay: p(10), DayOfWeek: p(3)})
	var vErr *recurrence.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{"day of week is not used by installments recurrence"}, vErr.Errors)

	rule, err := recurrence.BuildRule(recurrence.FrequencyInstallments,
		recurrence.Params{InstallmentCount: p(12), InstallmentDay: p(10)})
	require.NoError(t, err)
	assert.Equal(t, recurrence.Installments{Count: 12, Day: 10}, rule)

	// The persisted record carries only the installment fields.
	rec := recurrence.RecordOf(rule)
	assert.Nil(t, rec.DayOfWeek)
	back, err := rec.Rule()
	require.NoError(t, err)
	assert.True(t, recurrence.RulesEqual(rule, back))
}

func TestCreateSeries_InvalidRuleWritesNothing(t *testing.T) {
	// GIVEN: An invalid rule
	// WHEN: Creating a series
	// THEN: Validation fails before any write
	e, st := newTestEngine(t)

	_, err := e.CreateSeries(t.Context(), rentTemplate(), date("2024-01-31"),
		recurrence.FrequencyWeekly, recurrence.Params{})

	var vErr *recurrence.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 0, st.Len())
}
