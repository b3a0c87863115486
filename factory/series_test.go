package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/factory"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

func TestParseRule(t *testing.T) {
	f := factory.New()

	freq, params, err := f.ParseRule([]byte(`{"frequency":"installments","installment_count":12,"installment_day":10}`))
	require.NoError(t, err)
	assert.Equal(t, recurrence.FrequencyInstallments, freq)
	require.NotNil(t, params.InstallmentCount)
	assert.Equal(t, 12, *params.InstallmentCount)
	assert.Nil(t, params.DayOfWeek)

	// Semantics are not checked here.
	freq, _, err = f.ParseRule([]byte(`{"frequency":"fortnightly"}`))
	require.NoError(t, err)
	assert.False(t, recurrence.Validate(freq, recurrence.Params{}).Valid)
}

func TestParseRule_ShapeErrors(t *testing.T) {
	f := factory.New()

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"frequency":`},
		{"missing frequency", `{"day_of_month":3}`},
		{"unknown field", `{"frequency":"monthly","day_of_month":3,"every":2}`},
		{"string day", `{"frequency":"monthly","day_of_month":"3"}`},
		{"fractional day", `{"frequency":"monthly","day_of_month":3.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.ParseRule([]byte(tt.body))
			assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)
			assert.True(t, recurrence.IsClientError(err))
		})
	}
}

func TestParseSeries(t *testing.T) {
	// GIVEN: A full series payload
	// WHEN: Parsing it
	// THEN: Template, start and rule are converted without losing precision
	f := factory.New()
	body := `{
		"start_date": "2024-01-31",
		"kind": "receivable",
		"value": "1250.10",
		"currency": "USD",
		"payee": "Acme",
		"category": "services",
		"document_number": "NF-123",
		"attributes": {"cost_center": "ops"},
		"rule": {"frequency": "monthly", "day_of_month": 31}
	}`

	req, err := f.ParseSeries([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", req.Start.String())
	assert.Equal(t, recurrence.FrequencyMonthly, req.Frequency)
	assert.Equal(t, 31, *req.Params.DayOfMonth)
	assert.Equal(t, recurrence.KindReceivable, req.Template.Kind)
	assert.True(t, req.Template.Value.Equal(decimal.RequireFromString("1250.10")))
	assert.Equal(t, "USD", req.Template.Currency)
	assert.Equal(t, "NF-123", req.Template.DocumentNumber)
	assert.Equal(t, "ops", req.Template.Attributes["cost_center"])

	numeric, err := f.ParseSeries([]byte(`{"start_date":"2024-01-31","value":99.9,"rule":{"frequency":"unique"}}`))
	require.NoError(t, err)
	assert.True(t, numeric.Template.Value.Equal(decimal.RequireFromString("99.9")))
	assert.Empty(t, numeric.Template.Kind, "defaults are applied by the engine")
}

func TestParseSeries_ShapeErrors(t *testing.T) {
	f := factory.New()

	tests := []struct {
		name string
		body string
	}{
		{"missing rule", `{"start_date":"2024-01-31","value":"1"}`},
		{"bad date format", `{"start_date":"31/01/2024","value":"1","rule":{"frequency":"unique"}}`},
		{"impossible date", `{"start_date":"2024-02-30","value":"1","rule":{"frequency":"unique"}}`},
		{"bad kind", `{"start_date":"2024-01-31","value":"1","kind":"loan","rule":{"frequency":"unique"}}`},
		{"lowercase currency", `{"start_date":"2024-01-31","value":"1","currency":"brl","rule":{"frequency":"unique"}}`},
		{"value not a number", `{"start_date":"2024-01-31","value":"ten","rule":{"frequency":"unique"}}`},
		{"nested unknown field", `{"start_date":"2024-01-31","value":"1","rule":{"frequency":"unique","x":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseSeries([]byte(tt.body))
			assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)
		})
	}
}
