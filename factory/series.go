/*
Package factory converts JSON payloads into recurrence inputs.

PURPOSE:
  The UI (and seriesctl) submit rules and series as JSON. The factory checks
  the payload shape against a JSON Schema, then builds recurrence.Params,
  the obligation template and the start date. Rule semantics (required
  fields, ranges) stay in recurrence.Validate so the UI gets the same
  messages whichever entry point it used.

JSON SCHEMA:
  {
    "start_date": "2024-01-31",
    "kind": "payable",
    "value": "1250.00",
    "currency": "BRL",
    "payee": "Landlord",
    "category": "rent",
    "document_number": "NF-123",
    "notes": "",
    "attributes": {"cost_center": "ops"},
    "rule": {"frequency": "monthly", "day_of_month": 31}
  }

TWO LAYERS:
  - Shape (this package): wrong JSON types, unknown fields, unparsable
    dates or amounts. Reported as recurrence.ErrInvalidObligation.
  - Semantics (recurrence.Validate): missing or out-of-range rule fields.
    Reported as *recurrence.ValidationError.

USAGE:
  f := factory.New()
  req, err := f.ParseSeries(body)
  series, err := engine.CreateSeries(ctx, req.Template, req.Start, req.Frequency, req.Params)

SEE ALSO:
  - recurrence/validate.go: Rule semantics
  - api/handlers.go: HTTP entry points
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a rule. Parameters are pointers so
// "absent" reaches the validator as absent.
type RuleJSON struct {
	Frequency        string `json:"frequency"`
	DayOfWeek        *int   `json:"day_of_week,omitempty"`
	DayOfMonth       *int   `json:"day_of_month,omitempty"`
	InstallmentCount *int   `json:"installment_count,omitempty"`
	InstallmentDay   *int   `json:"installment_day,omitempty"`
}

func (r RuleJSON) Params() recurrence.Params {
	return recurrence.Params{
		DayOfWeek:        r.DayOfWeek,
		DayOfMonth:       r.DayOfMonth,
		InstallmentCount: r.InstallmentCount,
		InstallmentDay:   r.InstallmentDay,
	}
}

// SeriesJSON is the JSON representation of a series creation request.
type SeriesJSON struct {
	StartDate      string            `json:"start_date"`
	Kind           string            `json:"kind,omitempty"`
	Value          json.Number       `json:"value"`
	Currency       string            `json:"currency,omitempty"`
	Payee          string            `json:"payee,omitempty"`
	Category       string            `json:"category,omitempty"`
	DocumentNumber string            `json:"document_number,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Rule           RuleJSON          `json:"rule"`
}

// SeriesRequest is a parsed SeriesJSON.
type SeriesRequest struct {
	Start     recurrence.Date
	Frequency recurrence.Frequency
	Params    recurrence.Params
	Template  recurrence.Obligation
}

// =============================================================================
// SCHEMAS
// =============================================================================

const ruleSchemaURL = "https://recurrence.schemas.local/rule.schema.json"
const seriesSchemaURL = "https://recurrence.schemas.local/series.schema.json"

// Frequency values and ranges are left to recurrence.Validate, which words
// the errors the UI shows.
const ruleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["frequency"],
  "properties": {
    "frequency": {"type": "string"},
    "day_of_week": {"type": ["integer", "null"]},
    "day_of_month": {"type": ["integer", "null"]},
    "installment_count": {"type": ["integer", "null"]},
    "installment_day": {"type": ["integer", "null"]}
  },
  "additionalProperties": false
}`

const seriesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["start_date", "value", "rule"],
  "properties": {
    "start_date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "kind": {"enum": ["payable", "receivable"]},
    "value": {"type": ["string", "number"]},
    "currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
    "payee": {"type": "string"},
    "category": {"type": "string"},
    "document_number": {"type": "string"},
    "notes": {"type": "string"},
    "attributes": {"type": "object", "additionalProperties": {"type": "string"}},
    "rule": {"$ref": "` + ruleSchemaURL + `"}
  },
  "additionalProperties": false
}`

// =============================================================================
// FACTORY
// =============================================================================

// Factory parses and shape-checks payloads.
type Factory struct {
	rule   *jsonschema.Schema
	series *jsonschema.Schema
}

// New compiles the embedded schemas. They are constants, so failure is a
// programming error and panics.
func New() *Factory {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(ruleSchemaURL, strings.NewReader(ruleSchema)); err != nil {
		panic(fmt.Sprintf("rule schema load failed: %v", err))
	}
	if err := c.AddResource(seriesSchemaURL, strings.NewReader(seriesSchema)); err != nil {
		panic(fmt.Sprintf("series schema load failed: %v", err))
	}
	return &Factory{
		rule:   c.MustCompile(ruleSchemaURL),
		series: c.MustCompile(seriesSchemaURL),
	}
}

// ParseRule shape-checks a rule payload and returns its frequency and params.
// It does not run recurrence.Validate.
func (f *Factory) ParseRule(data []byte) (recurrence.Frequency, recurrence.Params, error) {
	if err := check(f.rule, data); err != nil {
		return "", recurrence.Params{}, err
	}
	var rj RuleJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return "", recurrence.Params{}, fmt.Errorf("%w: %v", recurrence.ErrInvalidObligation, err)
	}
	return recurrence.Frequency(rj.Frequency), rj.Params(), nil
}

// ParseSeries shape-checks a series payload and converts it.
func (f *Factory) ParseSeries(data []byte) (SeriesRequest, error) {
	if err := check(f.series, data); err != nil {
		return SeriesRequest{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var sj SeriesJSON
	if err := dec.Decode(&sj); err != nil {
		return SeriesRequest{}, fmt.Errorf("%w: %v", recurrence.ErrInvalidObligation, err)
	}
	return FromJSON(sj)
}

// FromJSON converts an already decoded SeriesJSON. Only field formats are
// checked here; callers that skip ParseSeries lose the schema check.
func FromJSON(sj SeriesJSON) (SeriesRequest, error) {
	start, err := recurrence.ParseDate(sj.StartDate)
	if err != nil {
		return SeriesRequest{}, fmt.Errorf("%w: start_date: %v", recurrence.ErrInvalidObligation, err)
	}
	value, err := decimal.NewFromString(sj.Value.String())
	if err != nil {
		return SeriesRequest{}, fmt.Errorf("%w: value: %v", recurrence.ErrInvalidObligation, err)
	}

	return SeriesRequest{
		Start:     start,
		Frequency: recurrence.Frequency(sj.Rule.Frequency),
		Params:    sj.Rule.Params(),
		Template: recurrence.Obligation{
			Kind:           recurrence.Kind(sj.Kind),
			Value:          value,
			Currency:       sj.Currency,
			Payee:          sj.Payee,
			Category:       sj.Category,
			DocumentNumber: sj.DocumentNumber,
			Notes:          sj.Notes,
			Attributes:     sj.Attributes,
		},
	}, nil
}

func check(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", recurrence.ErrInvalidObligation, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", recurrence.ErrInvalidObligation, err)
	}
	return nil
}
