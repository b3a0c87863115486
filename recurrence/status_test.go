package recurrence_test

import (
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

func TestPresent(t *testing.T) {
	today := date("2024-03-10")
	due := func(s string) mo.Option[recurrence.Date] { return mo.Some(date(s)) }

	tests := []struct {
		name   string
		due    mo.Option[recurrence.Date]
		status recurrence.Status
		want   recurrence.StatusTag
	}{
		{"paid wins over overdue", due("2024-01-01"), recurrence.StatusPaid, recurrence.TagPaid},
		{"cancelled", due("2024-03-11"), recurrence.StatusCancelled, recurrence.TagCancelled},
		{"undated", mo.None[recurrence.Date](), recurrence.StatusPending, recurrence.TagUndated},
		{"yesterday", due("2024-03-09"), recurrence.StatusPending, recurrence.TagOverdue},
		{"today", due("2024-03-10"), recurrence.StatusPending, recurrence.TagDueSoon},
		{"edge of window", due("2024-03-13"), recurrence.StatusPending, recurrence.TagDueSoon},
		{"past the window", due("2024-03-14"), recurrence.StatusPending, recurrence.TagOnTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recurrence.Present(tt.due, tt.status, today, recurrence.DefaultDueSoonWindow)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPresent_NegativeWindowMeansTodayOnly(t *testing.T) {
	today := date("2024-03-10")

	assert.Equal(t, recurrence.TagDueSoon, recurrence.Present(mo.Some(today), recurrence.StatusPending, today, -1))
	assert.Equal(t, recurrence.TagOnTime, recurrence.Present(mo.Some(date("2024-03-11")), recurrence.StatusPending, today, -1))
}

func TestEngine_PresentStatusUsesPolicyWindow(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Policy.DueSoonWindow = 7
	today := date("2024-03-10")

	assert.Equal(t, recurrence.TagDueSoon,
		e.PresentStatus(mo.Some(date("2024-03-17")), recurrence.StatusPending, today))
	assert.Equal(t, recurrence.TagOnTime,
		e.PresentStatus(mo.Some(date("2024-03-18")), recurrence.StatusPending, today))
}
