package postgres

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

var at = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func obligation(position int) recurrence.Obligation {
	return recurrence.Obligation{
		ID:         recurrence.ObligationID("ob-" + string(rune('0'+position))),
		Kind:       recurrence.KindPayable,
		SeriesID:   "s1",
		Position:   position,
		SeriesSize: 3,
		DueDate:    recurrence.MustParseDate("2024-02-29"),
		Value:      decimal.RequireFromString("99.90"),
		Currency:   "BRL",
		Status:     recurrence.StatusPending,
		Rule:       recurrence.RecordOf(recurrence.Monthly{Day: 31}),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func TestMigrate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS obligations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(t.Context()))
}

func TestCreateBatch_PositionConflictRollsBack(t *testing.T) {
	// GIVEN: The second insert violates the series position index
	// WHEN: The batch is written
	// THEN: The transaction rolls back and ErrDuplicatePosition is returned
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO obligations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO obligations")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: positionConstraint})
	mock.ExpectRollback()

	err := s.CreateBatch(t.Context(), []recurrence.Obligation{obligation(2), obligation(3)})
	assert.ErrorIs(t, err, recurrence.ErrDuplicatePosition)
}

func TestCreate_PrimaryKeyConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO obligations")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "obligations_pkey"})

	err := s.Create(t.Context(), obligation(1))
	assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)
}

func TestGet(t *testing.T) {
	s, mock := newMock(t)
	columns := []string{
		"id", "kind", "series_id", "parent_id", "position", "series_size", "installment_index",
		"due_date", "value", "currency", "status", "rule_json",
		"payee", "category", "document_number", "notes", "attributes_json",
		"created_at", "updated_at",
	}
	rows := sqlmock.NewRows(columns).AddRow(
		"ob-2", "payable", "s1", "ob-1", 2, 3, 0,
		time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), "99.90", "BRL", "paid",
		`{"frequency":"monthly","day_of_month":31}`,
		"Energy Co", "utilities", "", "", `{"cost_center":"ops"}`,
		at, at,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM obligations WHERE id = $1")).
		WithArgs("ob-2").
		WillReturnRows(rows)

	got, err := s.Get(t.Context(), "ob-2")
	require.NoError(t, err)
	assert.Equal(t, recurrence.ObligationID("ob-1"), got.ParentID)
	assert.Equal(t, "2024-02-29", got.DueDate.String())
	assert.True(t, got.Value.Equal(decimal.RequireFromString("99.90")))
	assert.Equal(t, recurrence.StatusPaid, got.Status)
	assert.Equal(t, recurrence.RecordOf(recurrence.Monthly{Day: 31}), got.Rule)
	assert.Equal(t, "ops", got.Attributes["cost_center"])

	mock.ExpectQuery(regexp.QuoteMeta("FROM obligations WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))
	_, err = s.Get(t.Context(), "missing")
	assert.ErrorIs(t, err, recurrence.ErrNotFound)
}

func TestUpdatePending(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   bool
		applied  bool
		notFound bool
	}{
		{name: "pending row", affected: 1, applied: true},
		{name: "settled row", affected: 0, exists: true},
		{name: "missing row", affected: 0, exists: false, notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectExec(regexp.QuoteMeta("WHERE id = $10 AND status = 'pending'")).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
					WithArgs("ob-2").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			applied, err := s.UpdatePending(t.Context(), obligation(2))
			assert.Equal(t, tt.applied, applied)
			if tt.notFound {
				assert.ErrorIs(t, err, recurrence.ErrNotFound)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDeleteUnpaid(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM obligations WHERE id = $1 AND status <> 'paid'")).
		WithArgs("ob-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM obligations")).
		WithArgs("ob-3").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := s.DeleteUnpaid(t.Context(), "ob-2")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.DeleteUnpaid(t.Context(), "ob-3")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestTransition(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE obligations SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4")).
		WithArgs("paid", at, "ob-2", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := s.Transition(t.Context(), "ob-2", recurrence.StatusPending, recurrence.StatusPaid, at)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRuns(t *testing.T) {
	s, mock := newMock(t)
	ctx := t.Context()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (series_id) DO UPDATE")).
		WithArgs("s1", "ob-1", sqlmock.AnyArg(), 12, 4, "partial", "disk full", at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SaveRun(ctx, recurrence.GenerationRun{
		SeriesID: "s1", AnchorID: "ob-1", Start: recurrence.MustParseDate("2024-01-31"),
		Expected: 12, Created: 4, Status: recurrence.RunPartial, LastError: "disk full",
		StartedAt: at, UpdatedAt: at,
	}))

	columns := []string{"series_id", "anchor_id", "start_date", "expected", "created", "status", "last_error", "started_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_runs WHERE status IN ($1, $2)")).
		WithArgs("partial", "in_progress").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("s1", "ob-1", "2024-01-31", 12, 4, "partial", "disk full", at, at))

	runs, err := s.ListRuns(ctx, recurrence.RunPartial, recurrence.RunInProgress)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "2024-01-31", runs[0].Start.String())
	assert.Equal(t, 4, runs[0].Created)

	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_runs WHERE series_id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(columns))
	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, recurrence.ErrNotFound)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1, $2, $3", placeholders(1, 3))
	assert.Equal(t, "$4", placeholders(4, 1))
}
