package presence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyflow/internal/model"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db, nil), mock
}

func TestGetStudentFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "grade", "classroom", "guardian_phone",
			"expected_check_in", "expected_check_out", "created_at", "updated_at",
		}).AddRow("stu-1", "Kim", "2", "A", "01012345678", "09:00:00", "18:00:00", now, now))

	s, err := repo.GetStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "Kim", s.Name)
	assert.Equal(t, "09:00:00", s.ExpectedCheckIn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStudentAbsentIsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s, err := repo.GetStudent(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, s)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateAttendance(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "2026-03-02", model.AttendancePresent).
		WillReturnResult(sqlmock.NewResult(0, 0)) // conflict, row already existed

	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_records WHERE student_id = $1 AND date = $2")).
		WithArgs("stu-1", "2026-03-02").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "student_id", "date", "check_in_time", "check_out_time", "status",
		}).AddRow("att-1", "stu-1", "2026-03-02", nil, nil, model.AttendancePresent))

	rec, err := repo.GetOrCreateAttendance(context.Background(), "stu-1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, "att-1", rec.ID)
	assert.Nil(t, rec.CheckInTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCheckInTimeKeepsFirstValue(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("SET check_in_time = COALESCE(check_in_time, $3)")).
		WithArgs("stu-1", "2026-03-02", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetCheckInTime(context.Background(), "stu-1", "2026-03-02", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAbsentForcesStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_id, date) DO UPDATE SET status = $4")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "2026-03-02", model.AttendanceAbsent).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "student_id", "date", "check_in_time", "check_out_time", "status",
		}).AddRow("att-1", "stu-1", "2026-03-02", nil, nil, model.AttendanceAbsent))

	rec, err := repo.MarkAbsent(context.Background(), "stu-1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, model.AttendanceAbsent, rec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestOngoingOutingNone(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM outing_requests")).
		WithArgs("stu-1", model.StatusOngoing).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	o, err := repo.LatestOngoingOuting(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Nil(t, o)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestOngoingOutingPicksNewest(t *testing.T) {
	repo, mock := newMockRepo(t)
	start := time.Now().Add(-time.Hour)
	expected := time.Now().Add(-30 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
		WithArgs("stu-1", model.StatusOngoing).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "student_id", "start_time", "expected_return_time", "actual_return_time", "status", "created_at",
		}).AddRow("out-2", "stu-1", start, expected, nil, model.StatusOngoing, start))

	o, err := repo.LatestOngoingOuting(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "out-2", o.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNotificationDedupeCreates(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (dedupe_key) WHERE dedupe_key <> '' DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "stu-1", model.CategoryLateArrival, "late", "late-arrival:stu-1:2026-03-02:1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	rec, created, err := repo.InsertNotificationDedupe(context.Background(), model.Notification{
		StudentID: "stu-1",
		Category:  model.CategoryLateArrival,
		Message:   "late",
		DedupeKey: "late-arrival:stu-1:2026-03-02:1",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNotificationDedupeHitReturnsExisting(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Now().Add(-time.Minute)

	// Conflict: the insert returns no row, the existing record is fetched.
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (dedupe_key) WHERE dedupe_key <> '' DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "stu-1", model.CategoryLateArrival, "late again", "late-arrival:stu-1:2026-03-02:1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE dedupe_key = $1")).
		WithArgs("late-arrival:stu-1:2026-03-02:1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "student_id", "category", "message", "created_at", "acknowledged", "dedupe_key",
		}).AddRow("ntf-1", "stu-1", model.CategoryLateArrival, "late", created, false, "late-arrival:stu-1:2026-03-02:1"))

	rec, wasCreated, err := repo.InsertNotificationDedupe(context.Background(), model.Notification{
		StudentID: "stu-1",
		Category:  model.CategoryLateArrival,
		Message:   "late again",
		DedupeKey: "late-arrival:stu-1:2026-03-02:1",
	})
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, "ntf-1", rec.ID)
	assert.Equal(t, "late", rec.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNoticeDedupeHitReturnsExisting(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Now().Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_id, date, reason, severity) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "stu-1", model.NoticeType, model.SeverityMinor, model.ReasonCheckinLate, "evaluator", "2026-03-02").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 AND date = $2 AND reason = $3 AND severity = $4")).
		WithArgs("stu-1", "2026-03-02", model.ReasonCheckinLate, model.SeverityMinor).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "student_id", "type", "severity", "reason", "source", "date", "created_at",
		}).AddRow("ntc-1", "stu-1", model.NoticeType, model.SeverityMinor, model.ReasonCheckinLate, "dashboard_start", "2026-03-02", created))

	rec, wasCreated, err := repo.InsertNoticeDedupe(context.Background(), model.Notice{
		StudentID: "stu-1",
		Severity:  model.SeverityMinor,
		Reason:    model.ReasonCheckinLate,
		Source:    "evaluator",
		Date:      "2026-03-02",
	})
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, "ntc-1", rec.ID)
	assert.Equal(t, "dashboard_start", rec.Source)
	require.NoError(t, mock.ExpectationsWereMet())
}
