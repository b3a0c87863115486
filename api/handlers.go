/*
handlers.go - HTTP API handlers for the recurring obligation engine

PURPOSE:
  Exposes the recurrence engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to recurrence.Engine.

ENDPOINTS:
  Rules:
    POST   /api/rules/validate              Check a rule payload
    POST   /api/rules/preview               Dates a rule would produce

  Series:
    POST   /api/series                      Create a series
    GET    /api/series/{id}                 Members, anchor first
    PATCH  /api/series/{id}                 Scoped edit
    DELETE /api/series/{id}                 Scoped delete (?scope=all|future|current)
    GET    /api/series/{id}/health          Completeness check
    POST   /api/series/{id}/resume          Create missing members
    GET    /api/series/{id}/calendar.ics    iCalendar export

  Obligations:
    GET    /api/obligations/{id}            One obligation (?today=YYYY-MM-DD)
    POST   /api/obligations/{id}/pay        pending -> paid
    POST   /api/obligations/{id}/cancel     pending -> cancelled

  Runs:
    GET    /api/runs/incomplete             Generations needing attention

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed payload, unknown scope, unusable template
  - 404: Series or obligation not found
  - 409: Settled target, duplicate position, series locked
  - 422: Rule validation errors, rule change on an existing series
  - 202: Series created partially (body says what is missing)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Rate limiting is per client IP.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/export"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/factory"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *recurrence.Engine
	Factory  *factory.Factory
	Logger   *slog.Logger
	Calendar export.Options
}

// NewHandler creates a new handler over the given engine.
func NewHandler(engine *recurrence.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = engine.Logger
	}
	return &Handler{
		Engine:  engine,
		Factory: factory.New(),
		Logger:  logger.With("component", "api"),
	}
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ValidateRule reports every defect of a rule payload. A rule that is
// well-formed JSON but incomplete still answers 200 with valid=false.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	freq, params, err := h.Factory.ParseRule(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule payload", err)
		return
	}

	res := h.Engine.ValidateRule(freq, params)
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, ValidateRuleResponse{Valid: res.Valid, Errors: errs})
}

// PreviewRule lists the dates a rule would produce from start_date. Without
// max_items it lists exactly the dates a created series would get.
func (h *Handler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := recurrence.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	freq, params, err := h.Factory.ParseRule(req.Rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule payload", err)
		return
	}
	var dates []recurrence.Date
	if req.MaxItems == 0 {
		dates, err = h.Engine.GenerationDates(start, freq, params)
	} else {
		dates, err = h.Engine.PreviewDates(start, freq, params, req.MaxItems)
	}
	if err != nil {
		h.writeEngineError(w, r, "Failed to preview rule", err)
		return
	}

	resp := PreviewResponse{Dates: make([]string, len(dates))}
	for i, d := range dates {
		resp.Dates[i] = d.String()
	}
	if len(dates) > 0 {
		if rule, err := recurrence.BuildRule(freq, params); err == nil {
			if value, err := recurrence.RRule(dates[0], rule, len(dates)); err == nil {
				resp.RRule = value
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SERIES HANDLERS
// =============================================================================

// CreateSeries validates the rule and generates the series. A partial
// generation answers 202 with the ids written so far.
func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := h.Factory.ParseSeries(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid series payload", err)
		return
	}

	series, err := h.Engine.CreateSeries(r.Context(), req.Template, req.Start, req.Frequency, req.Params)
	var partial *recurrence.PartialSeriesError
	switch {
	case errors.As(err, &partial):
		h.Logger.WarnContext(r.Context(), "series created partially",
			"series_id", partial.SeriesID, "expected", partial.Expected, "created", partial.Created)
		resp := seriesResponse(series)
		resp.SeriesID = string(partial.SeriesID)
		resp.AnchorID = string(partial.AnchorID)
		resp.Partial = &PartialDTO{
			Expected: partial.Expected,
			Created:  partial.Created,
			Missing:  partial.Missing(),
		}
		if partial.Err != nil {
			resp.Partial.Error = partial.Err.Error()
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	case err != nil:
		h.writeEngineError(w, r, "Failed to create series", err)
		return
	}

	writeJSON(w, http.StatusCreated, seriesResponse(series))
}

func seriesResponse(s recurrence.Series) CreateSeriesResponse {
	return CreateSeriesResponse{
		SeriesID:  string(s.ID),
		AnchorID:  string(s.Anchor.ID),
		MemberIDs: idStrings(s.MemberIDs()),
	}
}

// GetSeries returns every member of a series with its display status.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	today, ok := todayParam(w, r)
	if !ok {
		return
	}
	views, err := h.Engine.ListSeries(r.Context(), seriesIDParam(r), today)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get series", err)
		return
	}

	dtos := make([]ObligationDTO, len(views))
	for i, v := range views {
		dtos[i] = toObligationDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateSeries applies a patch to the members selected by scope. Paid and
// cancelled members are never touched.
func (h *Handler) UpdateSeries(w http.ResponseWriter, r *http.Request) {
	var req UpdateSeriesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, err := recurrence.ParseScope(req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope (use current, future or all)", err)
		return
	}
	refDue, err := optionalDate(req.ReferenceDueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reference_due_date format (use YYYY-MM-DD)", err)
		return
	}

	res, err := h.Engine.UpdateSeries(r.Context(), recurrence.UpdateRequest{
		SeriesID:         seriesIDParam(r),
		ReferenceID:      recurrence.ObligationID(req.ReferenceID),
		ReferenceDueDate: refDue,
		Patch:            req.Patch,
		Scope:            scope,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to update series", err)
		return
	}

	writeJSON(w, http.StatusOK, MutationResponse{
		UpdatedIDs: idStrings(res.IDs),
		Skipped:    idStrings(res.Skipped),
	})
}

// DeleteSeries removes the unpaid members selected by ?scope= (default all).
func (h *Handler) DeleteSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scopeText := q.Get("scope")
	if scopeText == "" {
		scopeText = "all"
	}
	scope, err := recurrence.ParseScope(scopeText)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope (use current, future or all)", err)
		return
	}
	refDue, err := optionalDate(q.Get("reference_due_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reference_due_date format (use YYYY-MM-DD)", err)
		return
	}

	res, err := h.Engine.DeleteScoped(r.Context(), recurrence.DeleteRequest{
		SeriesID:         seriesIDParam(r),
		ReferenceID:      recurrence.ObligationID(q.Get("reference_id")),
		ReferenceDueDate: refDue,
		Scope:            scope,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to delete series", err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteSeriesResponse{
		DeletedCount: res.Count(),
		DeletedIDs:   idStrings(res.IDs),
		Skipped:      idStrings(res.Skipped),
	})
}

// SeriesHealth reports expected vs present members.
func (h *Handler) SeriesHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.Engine.CheckSeries(r.Context(), seriesIDParam(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to check series", err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// ResumeSeries creates the members a failed generation left out.
func (h *Handler) ResumeSeries(w http.ResponseWriter, r *http.Request) {
	id := seriesIDParam(r)
	created, err := h.Engine.ResumeSeries(r.Context(), id)
	if err != nil && !errors.Is(err, recurrence.ErrPartialSeries) {
		h.writeEngineError(w, r, "Failed to resume series", err)
		return
	}
	health, herr := h.Engine.CheckSeries(r.Context(), id)
	if herr != nil {
		h.writeEngineError(w, r, "Failed to check series", herr)
		return
	}

	ids := make([]string, len(created))
	for i, o := range created {
		ids[i] = string(o.ID)
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, ResumeResponse{CreatedIDs: ids, Health: health})
}

// SeriesCalendar exports the series as text/calendar.
func (h *Handler) SeriesCalendar(w http.ResponseWriter, r *http.Request) {
	today, ok := todayParam(w, r)
	if !ok {
		return
	}
	id := seriesIDParam(r)
	views, err := h.Engine.ListSeries(r.Context(), id, today)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get series", err)
		return
	}
	data, err := export.EncodeSeries(views, h.Calendar)
	if err != nil {
		h.writeEngineError(w, r, "Failed to export series", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.ics"`, id))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// =============================================================================
// OBLIGATION HANDLERS
// =============================================================================

// GetObligation returns one obligation with its display status for ?today=.
func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	today, ok := todayParam(w, r)
	if !ok {
		return
	}
	v, err := h.Engine.GetObligation(r.Context(), obligationIDParam(r), today)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get obligation", err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(v))
}

// PayObligation settles a pending obligation.
func (h *Handler) PayObligation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.MarkPaid)
}

// CancelObligation cancels a pending obligation.
func (h *Handler) CancelObligation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	apply func(context.Context, recurrence.ObligationID) (recurrence.Obligation, error)) {
	today, ok := todayParam(w, r)
	if !ok {
		return
	}
	o, err := apply(r.Context(), obligationIDParam(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to change obligation status", err)
		return
	}
	if today.IsZero() {
		today = h.Engine.Today()
	}
	writeJSON(w, http.StatusOK, toObligationDTO(recurrence.View{
		Obligation: o,
		Tag:        h.Engine.PresentStatus(o.Due(), o.Status, today),
	}))
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListIncompleteRuns lists partial and stale generations.
func (h *Handler) ListIncompleteRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.Reconciler.IncompleteRuns(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var vErr *recurrence.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   message,
			Details: err.Error(),
			Errors:  vErr.Errors,
		})
	case errors.Is(err, recurrence.ErrRuleImmutable):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case recurrence.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case recurrence.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case recurrence.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, recurrence.ErrTransitionsUnsupported):
		writeError(w, http.StatusNotImplemented, message, err)
	default:
		h.Logger.ErrorContext(r.Context(), message, "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return nil, false
	}
	return body, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// todayParam reads ?today=YYYY-MM-DD. Absent means the engine's today.
func todayParam(w http.ResponseWriter, r *http.Request) (recurrence.Date, bool) {
	d, err := optionalDate(r.URL.Query().Get("today"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid today format (use YYYY-MM-DD)", err)
		return recurrence.Date{}, false
	}
	return d, true
}

func optionalDate(s string) (recurrence.Date, error) {
	if s == "" {
		return recurrence.Date{}, nil
	}
	return recurrence.ParseDate(s)
}

func seriesIDParam(r *http.Request) recurrence.SeriesID {
	return recurrence.SeriesID(chi.URLParam(r, "id"))
}

func obligationIDParam(r *http.Request) recurrence.ObligationID {
	return recurrence.ObligationID(chi.URLParam(r, "id"))
}
