// Package record maps obligations and generation runs to SQL rows. The
// sqlite and postgres stores share it and differ only in dialect.
package record

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// ObligationColumns is the column list every obligation query selects, in
// the order Args and ScanObligation use.
const ObligationColumns = `id, kind, series_id, parent_id, position, series_size, installment_index,
	due_date, value, currency, status, rule_json,
	payee, category, document_number, notes, attributes_json,
	created_at, updated_at`

// RunColumns is the column list for generation_runs.
const RunColumns = `series_id, anchor_id, start_date, expected, created, status, last_error, started_at, updated_at`

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ObligationArgs returns the values for ObligationColumns.
func ObligationArgs(o recurrence.Obligation) ([]any, error) {
	ruleJSON, err := json.Marshal(o.Rule)
	if err != nil {
		return nil, fmt.Errorf("encode rule: %w", err)
	}
	attrs := "{}"
	if len(o.Attributes) > 0 {
		b, err := json.Marshal(o.Attributes)
		if err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
		attrs = string(b)
	}
	return []any{
		string(o.ID), string(o.Kind),
		NullString(string(o.SeriesID)), NullString(string(o.ParentID)),
		o.Position, o.SeriesSize, o.InstallmentIndex,
		NullDate{Date: o.DueDate}, o.Value, o.Currency, string(o.Status), string(ruleJSON),
		o.Payee, o.Category, o.DocumentNumber, o.Notes, attrs,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	}, nil
}

func ScanObligation(s Scanner) (recurrence.Obligation, error) {
	var (
		o                  recurrence.Obligation
		id, kind, status   string
		seriesID, parentID sql.NullString
		due                NullDate
		ruleJSON, attrs    string
	)
	err := s.Scan(
		&id, &kind, &seriesID, &parentID, &o.Position, &o.SeriesSize, &o.InstallmentIndex,
		&due, &o.Value, &o.Currency, &status, &ruleJSON,
		&o.Payee, &o.Category, &o.DocumentNumber, &o.Notes, &attrs,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.ID = recurrence.ObligationID(id)
	o.Kind = recurrence.Kind(kind)
	o.SeriesID = recurrence.SeriesID(seriesID.String)
	o.ParentID = recurrence.ObligationID(parentID.String)
	o.DueDate = due.Date
	o.Status = recurrence.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(ruleJSON), &o.Rule); err != nil {
		return o, fmt.Errorf("decode rule of %s: %w", id, err)
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &o.Attributes); err != nil {
			return o, fmt.Errorf("decode attributes of %s: %w", id, err)
		}
	}
	return o, nil
}

func RunArgs(r recurrence.GenerationRun) []any {
	return []any{
		string(r.SeriesID), string(r.AnchorID), NullDate{Date: r.Start},
		r.Expected, r.Created, string(r.Status), r.LastError,
		r.StartedAt.UTC(), r.UpdatedAt.UTC(),
	}
}

func ScanRun(s Scanner) (recurrence.GenerationRun, error) {
	var (
		r                  recurrence.GenerationRun
		seriesID, anchorID string
		status             string
		start              NullDate
	)
	err := s.Scan(&seriesID, &anchorID, &start, &r.Expected, &r.Created, &status, &r.LastError, &r.StartedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.SeriesID = recurrence.SeriesID(seriesID)
	r.AnchorID = recurrence.ObligationID(anchorID)
	r.Start = start.Date
	r.Status = recurrence.RunStatus(status)
	r.StartedAt = r.StartedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// =============================================================================
// COLUMN TYPES
// =============================================================================

// NullDate stores a recurrence.Date as YYYY-MM-DD, or NULL when zero. It
// scans DATE columns (time.Time) as well as text.
type NullDate struct {
	Date recurrence.Date
}

func (n NullDate) Value() (driver.Value, error) {
	if n.Date.IsZero() {
		return nil, nil
	}
	return n.Date.String(), nil
}

func (n *NullDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Date = recurrence.Date{}
		return nil
	case time.Time:
		n.Date = recurrence.DateOf(v.UTC())
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	}
	return fmt.Errorf("cannot scan %T into date", src)
}

func (n *NullDate) parse(s string) error {
	if s == "" {
		n.Date = recurrence.Date{}
		return nil
	}
	if len(s) > len(recurrence.DateLayout) {
		s = s[:len(recurrence.DateLayout)]
	}
	d, err := recurrence.ParseDate(s)
	if err != nil {
		return err
	}
	n.Date = d
	return nil
}

func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// StatusFilter renders "status IN (...)" with placeholders from ph, starting
// at index next. It returns an empty clause for no statuses.
func StatusFilter(statuses []recurrence.RunStatus, ph func(i int) string, next int) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = ph(next + i)
		args[i] = string(s)
	}
	return "WHERE status IN (" + strings.Join(marks, ", ") + ")", args
}
