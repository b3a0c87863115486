/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the recurrence domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Rules:
    ValidateRuleResponse, PreviewRequest, PreviewResponse

  Series:
    CreateSeriesResponse, UpdateSeriesRequest, MutationResponse,
    DeleteSeriesResponse, ResumeResponse

  Obligations:
    ObligationDTO, RunDTO

VALIDATION:
  Rule and series payloads are shape-checked by the factory package (JSON
  Schema). DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/series.go: RuleJSON and SeriesJSON
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// =============================================================================
// RULES
// =============================================================================

// ValidateRuleResponse is the outcome of POST /api/rules/validate.
type ValidateRuleResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// PreviewRequest asks for the dates a rule would produce.
type PreviewRequest struct {
	StartDate string          `json:"start_date"`
	MaxItems  int             `json:"max_items"`
	Rule      json.RawMessage `json:"rule"`
}

// PreviewResponse lists preview dates and, when one exists, the equivalent
// RFC 5545 RRULE.
type PreviewResponse struct {
	Dates []string `json:"dates"`
	RRule string   `json:"rrule,omitempty"`
}

// =============================================================================
// SERIES
// =============================================================================

// CreateSeriesResponse is returned by POST /api/series. Partial is set when
// generation stopped early; the series can be resumed.
type CreateSeriesResponse struct {
	SeriesID  string      `json:"series_id"`
	AnchorID  string      `json:"anchor_id"`
	MemberIDs []string    `json:"member_ids"`
	Partial   *PartialDTO `json:"partial,omitempty"`
}

// PartialDTO describes an incomplete generation.
type PartialDTO struct {
	Expected int    `json:"expected"`
	Created  int    `json:"created"`
	Missing  int    `json:"missing"`
	Error    string `json:"error"`
}

// UpdateSeriesRequest is the body of PATCH /api/series/{id}.
type UpdateSeriesRequest struct {
	ReferenceID      string           `json:"reference_id,omitempty"`
	ReferenceDueDate string           `json:"reference_due_date,omitempty"`
	Scope            string           `json:"scope"`
	Patch            recurrence.Patch `json:"patch"`
}

// MutationResponse reports which members an update touched. Skipped lists
// members settled concurrently and left unchanged.
type MutationResponse struct {
	UpdatedIDs []string `json:"updated_ids"`
	Skipped    []string `json:"skipped"`
}

// DeleteSeriesResponse reports a scoped delete.
type DeleteSeriesResponse struct {
	DeletedCount int      `json:"deleted_count"`
	DeletedIDs   []string `json:"deleted_ids"`
	Skipped      []string `json:"skipped"`
}

// ResumeResponse is returned by POST /api/series/{id}/resume.
type ResumeResponse struct {
	CreatedIDs []string                `json:"created_ids"`
	Health     recurrence.SeriesHealth `json:"health"`
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

// ObligationDTO represents an obligation in API responses.
type ObligationDTO struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	SeriesID         string            `json:"series_id,omitempty"`
	ParentID         string            `json:"parent_id,omitempty"`
	Position         int               `json:"position,omitempty"`
	SeriesSize       int               `json:"series_size,omitempty"`
	InstallmentIndex int               `json:"installment_index,omitempty"`
	DueDate          string            `json:"due_date,omitempty"`
	Value            string            `json:"value"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	DisplayStatus    string            `json:"display_status"`
	Payee            string            `json:"payee,omitempty"`
	Category         string            `json:"category,omitempty"`
	DocumentNumber   string            `json:"document_number,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`

	Rule recurrence.RuleRecord `json:"rule"`
}

func toObligationDTO(v recurrence.View) ObligationDTO {
	o := v.Obligation
	return ObligationDTO{
		ID:               string(o.ID),
		Kind:             string(o.Kind),
		SeriesID:         string(o.SeriesID),
		ParentID:         string(o.ParentID),
		Position:         o.Position,
		SeriesSize:       o.SeriesSize,
		InstallmentIndex: o.InstallmentIndex,
		DueDate:          o.DueDate.String(),
		Value:            o.Value.StringFixed(2),
		Currency:         o.Currency,
		Status:           string(o.Status),
		DisplayStatus:    string(v.Tag),
		Rule:             o.Rule,
		Payee:            o.Payee,
		Category:         o.Category,
		DocumentNumber:   o.DocumentNumber,
		Notes:            o.Notes,
		Attributes:       o.Attributes,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        o.UpdatedAt.Format(time.RFC3339),
	}
}

// RunDTO represents a generation run needing attention.
type RunDTO struct {
	SeriesID  string `json:"series_id"`
	AnchorID  string `json:"anchor_id"`
	StartDate string `json:"start_date,omitempty"`
	Expected  int    `json:"expected"`
	Created   int    `json:"created"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	StartedAt string `json:"started_at"`
	UpdatedAt string `json:"updated_at"`
}

func toRunDTO(r recurrence.GenerationRun) RunDTO {
	return RunDTO{
		SeriesID:  string(r.SeriesID),
		AnchorID:  string(r.AnchorID),
		StartDate: r.Start.String(),
		Expected:  r.Expected,
		Created:   r.Created,
		Status:    string(r.Status),
		LastError: r.LastError,
		StartedAt: r.StartedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func idStrings(ids []recurrence.ObligationID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
