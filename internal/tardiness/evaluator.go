package tardiness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"studyflow/internal/clock"
	"studyflow/internal/metrics"
	"studyflow/internal/model"
)

// Store is the read side the evaluator re-derives its state from on every
// call; nothing here is cached between runs.
type Store interface {
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	GetAttendance(ctx context.Context, studentID, date string) (*model.AttendanceRecord, error)
	LatestOngoingOuting(ctx context.Context, studentID string) (*model.OutingRequest, error)
	LatestOngoingSleep(ctx context.Context, studentID string) (*model.SleepRequest, error)
}

// Emitter raises deduplicated notifications.
type Emitter interface {
	Notify(ctx context.Context, studentID, category, message, dedupeKey string) (model.Notification, error)
}

// Evaluator runs the three independent lateness checks. Each check is
// idempotent: repeated calls at the same tier land on the same dedupe key
// and the emitter answers with the existing record.
type Evaluator struct {
	store   Store
	emitter Emitter
	clock   *clock.Clock
	log     *zap.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(store Store, emitter Emitter, clk *clock.Clock, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{store: store, emitter: emitter, clock: clk, log: log}
}

// EvaluateAll runs the check-in, outing-return and sleep-wake checks for
// one student. A missing student is a no-op, not an error.
func (e *Evaluator) EvaluateAll(ctx context.Context, studentID string) error {
	student, err := e.store.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if student == nil {
		return nil
	}
	metrics.Evaluations.Inc()
	now := e.clock.Now()
	if err := e.EvaluateCheckin(ctx, student, now); err != nil {
		return err
	}
	if err := e.EvaluateOuting(ctx, studentID, now); err != nil {
		return err
	}
	return e.EvaluateSleep(ctx, studentID, now)
}

// EvaluateCheckin raises a late-arrival notification when the student has
// not checked in past the expected time. Once today's record carries a
// check-in instant the check does nothing, however late the call is.
func (e *Evaluator) EvaluateCheckin(ctx context.Context, student *model.Student, now time.Time) error {
	tod, err := clock.ParseTimeOfDay(student.ExpectedCheckIn)
	if err != nil {
		// Stored expectation is unparseable: config corruption, not a
		// per-request condition.
		return fmt.Errorf("student %s: %w", student.ID, err)
	}
	expected := e.clock.CombineWithToday(tod, now)
	if !now.After(expected) {
		return nil
	}
	date := e.clock.CivilDate(now)
	rec, err := e.store.GetAttendance(ctx, student.ID, date)
	if err != nil {
		return err
	}
	if rec != nil && rec.CheckInTime != nil {
		return nil
	}
	delta := e.clock.SecondsLate(now, expected)
	tier := Classify(delta)
	if tier == TierNone {
		return nil
	}
	key := fmt.Sprintf("late-arrival:%s:%s:%d", student.ID, date, tier)
	msg := fmt.Sprintf("Check-in is %d seconds late (expected %s).", delta, expected.Format("15:04:05"))
	_, err = e.emitter.Notify(ctx, student.ID, model.CategoryLateArrival, msg, key)
	return err
}

// EvaluateOuting raises a late-return notification against the most recent
// ongoing outing, keyed by outing id and tier.
func (e *Evaluator) EvaluateOuting(ctx context.Context, studentID string, now time.Time) error {
	outing, err := e.store.LatestOngoingOuting(ctx, studentID)
	if err != nil {
		return err
	}
	if outing == nil {
		return nil
	}
	expected := e.clock.In(outing.ExpectedReturnTime)
	if !now.After(expected) {
		return nil
	}
	delta := e.clock.SecondsLate(now, expected)
	tier := Classify(delta)
	if tier == TierNone {
		return nil
	}
	key := fmt.Sprintf("late-outing-return:%s:%s:%d", studentID, outing.ID, tier)
	msg := fmt.Sprintf("Outing return is %d seconds late (expected back %s).", delta, expected.Format("15:04:05"))
	_, err = e.emitter.Notify(ctx, studentID, model.CategoryLateOutingReturn, msg, key)
	return err
}

// EvaluateSleep raises a late-wake notification against the most recent
// ongoing sleep request. No tiering: any positive lateness fires, at most
// once per sleep request because the key has no date or tier component.
func (e *Evaluator) EvaluateSleep(ctx context.Context, studentID string, now time.Time) error {
	sleep, err := e.store.LatestOngoingSleep(ctx, studentID)
	if err != nil {
		return err
	}
	if sleep == nil {
		return nil
	}
	expected := e.clock.In(sleep.ExpectedWakeTime)
	if !now.After(expected) {
		return nil
	}
	delta := e.clock.SecondsLate(now, expected)
	if delta < 1 {
		return nil
	}
	key := fmt.Sprintf("late-sleep-wake:%s:%s", studentID, sleep.ID)
	msg := fmt.Sprintf("Wake-up is %d seconds late (expected %s).", delta, expected.Format("15:04:05"))
	_, err = e.emitter.Notify(ctx, studentID, model.CategoryLateSleepWake, msg, key)
	return err
}
