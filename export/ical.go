// Package export renders series for calendar clients. Each member becomes a
// VTODO with its due date, so a bookkeeper can subscribe to upcoming
// payables and receivables from any CalDAV-capable calendar.
package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

const productID = "-//Elevalucro//Recurring Obligations//EN"

// Options controls how amounts are rendered.
type Options struct {
	// Language formats amounts in summaries. Defaults to Brazilian Portuguese.
	Language language.Tag
	// Now stamps DTSTAMP. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Language == language.Und {
		o.Language = language.BrazilianPortuguese
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SeriesCalendar builds a VCALENDAR with one VTODO per member. The anchor's
// rule is attached as X-RECURRENCE-RULE for reference only: members are
// listed explicitly, so clients must not expand it.
func SeriesCalendar(members []recurrence.View, opts Options) (*ical.Calendar, error) {
	opts = opts.withDefaults()
	printer := message.NewPrinter(opts.Language)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	stamp := opts.Now().UTC()
	for _, m := range members {
		todo, err := todoFor(m, printer, stamp)
		if err != nil {
			return nil, err
		}
		cal.Children = append(cal.Children, todo)
	}
	return cal, nil
}

func todoFor(v recurrence.View, printer *message.Printer, stamp time.Time) (*ical.Component, error) {
	o := v.Obligation
	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, string(o.ID)+"@recurrence")
	todo.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	todo.Props.SetDateTime(ical.PropLastModified, o.UpdatedAt.UTC())
	if due, ok := o.Due().Get(); ok {
		todo.Props.SetDate(ical.PropDue, due.Time())
	}

	amount, err := FormatAmount(printer, o.Value.InexactFloat64(), o.Currency)
	if err != nil {
		return nil, err
	}
	todo.Props.SetText(ical.PropSummary, summary(o, amount))
	todo.Props.SetText(ical.PropStatus, todoStatus(o.Status))

	if o.Notes != "" {
		todo.Props.SetText(ical.PropDescription, norm.NFC.String(o.Notes))
	}
	if o.Category != "" {
		todo.Props.SetText(ical.PropCategories, norm.NFC.String(o.Category))
	}
	if o.ParentID != "" {
		todo.Props.SetText(ical.PropRelatedTo, string(o.ParentID)+"@recurrence")
	}
	if o.IsAnchor() {
		if rule, err := o.Rule.Rule(); err == nil {
			if value, err := recurrence.RRule(o.DueDate, rule, o.SeriesSize); err == nil {
				todo.Props.SetText("X-RECURRENCE-RULE", value)
			}
		}
	}
	todo.Props.SetText("X-OBLIGATION-STATUS", string(v.Tag))
	return todo, nil
}

func summary(o recurrence.Obligation, amount string) string {
	parts := make([]string, 0, 3)
	if o.Payee != "" {
		parts = append(parts, norm.NFC.String(o.Payee))
	}
	parts = append(parts, amount)
	if o.SeriesSize > 0 {
		parts = append(parts, fmt.Sprintf("(%d/%d)", o.Position, o.SeriesSize))
	}
	return strings.Join(parts, " ")
}

func todoStatus(s recurrence.Status) string {
	switch s {
	case recurrence.StatusPaid:
		return "COMPLETED"
	case recurrence.StatusCancelled:
		return "CANCELLED"
	}
	return "NEEDS-ACTION"
}

// FormatAmount renders value in the given ISO 4217 currency using printer's
// locale, e.g. "R$ 1.250,00".
func FormatAmount(printer *message.Printer, value float64, code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("unknown currency %q: %w", code, err)
	}
	return printer.Sprint(currency.Symbol(unit.Amount(value))), nil
}

// Encode writes cal as text/calendar.
func Encode(w io.Writer, cal *ical.Calendar) error {
	return ical.NewEncoder(w).Encode(cal)
}

// EncodeSeries is SeriesCalendar followed by Encode.
func EncodeSeries(members []recurrence.View, opts Options) ([]byte, error) {
	cal, err := SeriesCalendar(members, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}
