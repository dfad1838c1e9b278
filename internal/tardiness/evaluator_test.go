package tardiness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyflow/internal/clock"
	"studyflow/internal/model"
)

var evalSeoul = time.FixedZone("Asia/Seoul", 9*60*60)

type fakeStore struct {
	student    *model.Student
	attendance *model.AttendanceRecord
	outing     *model.OutingRequest
	sleep      *model.SleepRequest
}

func (f *fakeStore) GetStudent(context.Context, string) (*model.Student, error) {
	return f.student, nil
}

func (f *fakeStore) GetAttendance(context.Context, string, string) (*model.AttendanceRecord, error) {
	return f.attendance, nil
}

func (f *fakeStore) LatestOngoingOuting(context.Context, string) (*model.OutingRequest, error) {
	return f.outing, nil
}

func (f *fakeStore) LatestOngoingSleep(context.Context, string) (*model.SleepRequest, error) {
	return f.sleep, nil
}

type emitted struct {
	category string
	message  string
	key      string
}

type fakeEmitter struct {
	calls []emitted
}

func (f *fakeEmitter) Notify(_ context.Context, studentID, category, message, dedupeKey string) (model.Notification, error) {
	f.calls = append(f.calls, emitted{category: category, message: message, key: dedupeKey})
	return model.Notification{StudentID: studentID, Category: category, DedupeKey: dedupeKey}, nil
}

func newEval(store *fakeStore, emitter *fakeEmitter) *Evaluator {
	return NewEvaluator(store, emitter, clock.NewFixed(evalSeoul), nil)
}

func student() *model.Student {
	return &model.Student{ID: "stu-1", Name: "Kim", ExpectedCheckIn: "09:00:00", ExpectedCheckOut: "18:00:00"}
}

func TestEvaluateCheckinMinor(t *testing.T) {
	store := &fakeStore{student: student()}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	now := time.Date(2026, 3, 2, 9, 0, 31, 0, evalSeoul)
	require.NoError(t, e.EvaluateCheckin(context.Background(), store.student, now))

	require.Len(t, emitter.calls, 1)
	assert.Equal(t, model.CategoryLateArrival, emitter.calls[0].category)
	assert.Equal(t, "late-arrival:stu-1:2026-03-02:1", emitter.calls[0].key)
	assert.Contains(t, emitter.calls[0].message, "31 seconds late")
}

func TestEvaluateCheckinUTCExpressedInstant(t *testing.T) {
	store := &fakeStore{student: student()}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	// The same moment as 09:00:31 KST, expressed in UTC by the caller.
	now, err := time.Parse(time.RFC3339, "2026-03-02T00:00:31Z")
	require.NoError(t, err)
	require.NoError(t, e.EvaluateCheckin(context.Background(), store.student, now))

	require.Len(t, emitter.calls, 1)
	assert.Equal(t, "late-arrival:stu-1:2026-03-02:1", emitter.calls[0].key)
	assert.Contains(t, emitter.calls[0].message, "31 seconds late")
}

func TestEvaluateCheckinMajorAtThirtyMinutes(t *testing.T) {
	store := &fakeStore{student: student()}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	now := time.Date(2026, 3, 2, 9, 30, 0, 0, evalSeoul)
	require.NoError(t, e.EvaluateCheckin(context.Background(), store.student, now))

	require.Len(t, emitter.calls, 1)
	assert.Equal(t, "late-arrival:stu-1:2026-03-02:2", emitter.calls[0].key)
}

func TestEvaluateCheckinNotLate(t *testing.T) {
	store := &fakeStore{student: student()}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	// Exactly on time is not late.
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, evalSeoul)
	require.NoError(t, e.EvaluateCheckin(context.Background(), store.student, now))
	assert.Empty(t, emitter.calls)

	now = time.Date(2026, 3, 2, 8, 45, 0, 0, evalSeoul)
	require.NoError(t, e.EvaluateCheckin(context.Background(), store.student, now))
	assert.Empty(t, emitter.calls)
}

func TestEvaluateCheckinSkippedOnceRecorded(t *testing.T) {
	checkedIn := time.Date(2026, 3, 2, 8, 55, 0, 0, evalSeoul)
	store := &fakeStore{
		student:    student(),
		attendance: &model.AttendanceRecord{StudentID: "stu-1", Date: "2026-03-02", CheckInTime: &checkedIn},
	}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	now := time.Date(2026, 3, 2, 11, 0, 0, 0, evalSeoul)
	require.NoError(t, e.EvaluateCheckin(context.Background(), store.student, now))
	assert.Empty(t, emitter.calls)
}

func TestEvaluateCheckinBadExpectation(t *testing.T) {
	s := student()
	s.ExpectedCheckIn = "9:00"
	e := newEval(&fakeStore{student: s}, &fakeEmitter{})

	err := e.EvaluateCheckin(context.Background(), s, time.Date(2026, 3, 2, 10, 0, 0, 0, evalSeoul))
	require.Error(t, err)
}

func TestEvaluateOutingTiers(t *testing.T) {
	expected := time.Date(2026, 3, 2, 14, 0, 0, 0, evalSeoul)
	store := &fakeStore{
		student: student(),
		outing:  &model.OutingRequest{ID: "out-9", StudentID: "stu-1", ExpectedReturnTime: expected, Status: model.StatusOngoing},
	}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	require.NoError(t, e.EvaluateOuting(context.Background(), "stu-1", expected.Add(10*time.Minute)))
	require.NoError(t, e.EvaluateOuting(context.Background(), "stu-1", expected.Add(31*time.Minute)))

	require.Len(t, emitter.calls, 2)
	assert.Equal(t, "late-outing-return:stu-1:out-9:1", emitter.calls[0].key)
	assert.Equal(t, "late-outing-return:stu-1:out-9:2", emitter.calls[1].key)
	assert.Equal(t, model.CategoryLateOutingReturn, emitter.calls[0].category)
}

func TestEvaluateOutingNoOngoing(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newEval(&fakeStore{student: student()}, emitter)

	now := time.Date(2026, 3, 2, 14, 30, 0, 0, evalSeoul)
	require.NoError(t, e.EvaluateOuting(context.Background(), "stu-1", now))
	assert.Empty(t, emitter.calls)
}

func TestEvaluateSleepNoTier(t *testing.T) {
	expected := time.Date(2026, 3, 2, 13, 0, 0, 0, evalSeoul)
	store := &fakeStore{
		student: student(),
		sleep:   &model.SleepRequest{ID: "slp-3", StudentID: "stu-1", ExpectedWakeTime: expected, Status: model.StatusOngoing},
	}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	// A full hour late still keys on the sleep id only.
	require.NoError(t, e.EvaluateSleep(context.Background(), "stu-1", expected.Add(time.Hour)))

	require.Len(t, emitter.calls, 1)
	assert.Equal(t, "late-sleep-wake:stu-1:slp-3", emitter.calls[0].key)
	assert.Equal(t, model.CategoryLateSleepWake, emitter.calls[0].category)
}

func TestEvaluateSleepOnTime(t *testing.T) {
	expected := time.Date(2026, 3, 2, 13, 0, 0, 0, evalSeoul)
	store := &fakeStore{
		student: student(),
		sleep:   &model.SleepRequest{ID: "slp-3", StudentID: "stu-1", ExpectedWakeTime: expected, Status: model.StatusOngoing},
	}
	emitter := &fakeEmitter{}
	e := newEval(store, emitter)

	require.NoError(t, e.EvaluateSleep(context.Background(), "stu-1", expected))
	assert.Empty(t, emitter.calls)
}

func TestEvaluateAllMissingStudent(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newEval(&fakeStore{}, emitter)

	require.NoError(t, e.EvaluateAll(context.Background(), "ghost"))
	assert.Empty(t, emitter.calls)
}
