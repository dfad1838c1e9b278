package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"studyflow/internal/broadcast"
	"studyflow/internal/clock"
	"studyflow/internal/model"
	"studyflow/internal/notify"
	"studyflow/internal/tardiness"
)

// Rejections surfaced to the request layer. No partial writes happen before
// the corresponding check.
var (
	ErrStudentNotFound    = errors.New("student not found")
	ErrNoOngoingOuting    = errors.New("no ongoing outing request")
	ErrNoOngoingSleep     = errors.New("no ongoing sleep request")
	ErrNoOpenFocusSession = errors.New("no active focus session")
)

// Service coordinates the lifecycle operations: check-in/out, outings,
// sleep breaks, focus sessions and administrative absence marking. Explicit
// user actions issue notices here; the passive periodic checks live in the
// tardiness evaluator and emit notifications instead.
type Service struct {
	repo     *Repository
	notifier *notify.Notifier
	hub      *broadcast.Hub
	clock    *clock.Clock
	log      *zap.Logger
}

// NewService creates a service.
func NewService(repo *Repository, notifier *notify.Notifier, hub *broadcast.Hub, clk *clock.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, notifier: notifier, hub: hub, clock: clk, log: log}
}

// Now returns the current instant in the civil zone.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// UpsertStudent creates or updates a student and broadcasts the new state.
func (s *Service) UpsertStudent(ctx context.Context, in model.Student) (model.Student, error) {
	student, err := s.repo.UpsertStudent(ctx, in)
	if err != nil {
		return model.Student{}, err
	}
	s.hub.SendToAll(student.ID, broadcast.Message{Type: "student_updated", Data: student})
	return student, nil
}

// GetStudent returns a student or ErrStudentNotFound.
func (s *Service) GetStudent(ctx context.Context, id string) (model.Student, error) {
	student, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return model.Student{}, err
	}
	if student == nil {
		return model.Student{}, ErrStudentNotFound
	}
	return *student, nil
}

// CheckIn handles the dashboard check-in button: audit row, lazy attendance
// record, first-write-wins check-in instant, and a citation when the press
// itself is already late.
func (s *Service) CheckIn(ctx context.Context, studentID string, now time.Time) (model.AttendanceRecord, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if student == nil {
		return model.AttendanceRecord{}, ErrStudentNotFound
	}
	if err := s.repo.InsertEvent(ctx, model.EventLog{StudentID: studentID, Type: "dashboard_start", Timestamp: now}); err != nil {
		return model.AttendanceRecord{}, err
	}

	date := s.clock.CivilDate(now)
	rec, err := s.repo.GetOrCreateAttendance(ctx, studentID, date)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if rec.CheckInTime == nil {
		if err := s.repo.SetCheckInTime(ctx, studentID, date, now); err != nil {
			return model.AttendanceRecord{}, err
		}
		rec.CheckInTime = &now
	}

	// Lateness at the moment of the press issues a formal citation; the
	// severity comes from the same classifier the evaluator uses.
	tod, err := clock.ParseTimeOfDay(student.ExpectedCheckIn)
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("student %s: %w", studentID, err)
	}
	expected := s.clock.CombineWithToday(tod, now)
	if tier := tardiness.Classify(s.clock.SecondsLate(now, expected)); tier != tardiness.TierNone {
		if _, err := s.notifier.IssueNotice(ctx, studentID, int(tier), model.ReasonCheckinLate, "dashboard_start", date); err != nil {
			return model.AttendanceRecord{}, err
		}
	}
	return rec, nil
}

// Logout sets the day's check-out instant and broadcasts it.
func (s *Service) Logout(ctx context.Context, studentID string, now time.Time) error {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if student == nil {
		return ErrStudentNotFound
	}
	if err := s.repo.InsertEvent(ctx, model.EventLog{StudentID: studentID, Type: "logout", Timestamp: now}); err != nil {
		return err
	}
	date := s.clock.CivilDate(now)
	if _, err := s.repo.GetOrCreateAttendance(ctx, studentID, date); err != nil {
		return err
	}
	if err := s.repo.SetCheckOutTime(ctx, studentID, date, now); err != nil {
		return err
	}
	s.hub.SendToAll(studentID, broadcast.Message{Type: "logout", Data: map[string]any{
		"student_id": studentID,
		"time":       now,
	}})
	return nil
}

// StartOuting opens an ongoing outing with its expected return instant.
func (s *Service) StartOuting(ctx context.Context, studentID string, expectedReturn, now time.Time) (model.OutingRequest, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return model.OutingRequest{}, err
	}
	if student == nil {
		return model.OutingRequest{}, ErrStudentNotFound
	}
	if err := s.repo.InsertEvent(ctx, model.EventLog{
		StudentID: studentID,
		Type:      "outing_request",
		Timestamp: now,
		Payload:   map[string]any{"expected_return_time": expectedReturn},
	}); err != nil {
		return model.OutingRequest{}, err
	}
	outing, err := s.repo.InsertOuting(ctx, model.OutingRequest{
		StudentID:          studentID,
		StartTime:          now,
		ExpectedReturnTime: expectedReturn,
	})
	if err != nil {
		return model.OutingRequest{}, err
	}
	s.hub.SendToAll(studentID, broadcast.Message{Type: "outing_request", Data: outing})
	return outing, nil
}

// ReturnOuting closes the most recent ongoing outing. A late return at the
// press of the button issues a citation (major at 30 minutes).
func (s *Service) ReturnOuting(ctx context.Context, studentID string, now time.Time) (model.OutingRequest, error) {
	outing, err := s.repo.LatestOngoingOuting(ctx, studentID)
	if err != nil {
		return model.OutingRequest{}, err
	}
	if outing == nil {
		return model.OutingRequest{}, ErrNoOngoingOuting
	}
	if err := s.repo.CompleteOuting(ctx, outing.ID, now); err != nil {
		return model.OutingRequest{}, err
	}
	outing.ActualReturnTime = &now
	outing.Status = model.StatusCompleted

	if delta := s.clock.SecondsLate(now, outing.ExpectedReturnTime); delta > 0 {
		tier := tardiness.Classify(delta)
		if _, err := s.notifier.IssueNotice(ctx, studentID, int(tier), model.ReasonOutingReturnLate, "outing_return", s.clock.CivilDate(now)); err != nil {
			return model.OutingRequest{}, err
		}
	}
	s.hub.SendToAll(studentID, broadcast.Message{Type: "outing_return", Data: map[string]any{
		"id":                 outing.ID,
		"actual_return_time": now,
	}})
	return *outing, nil
}

// StartSleep opens an ongoing sleep break with its expected wake instant.
func (s *Service) StartSleep(ctx context.Context, studentID string, expectedWake, now time.Time) (model.SleepRequest, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return model.SleepRequest{}, err
	}
	if student == nil {
		return model.SleepRequest{}, ErrStudentNotFound
	}
	if err := s.repo.InsertEvent(ctx, model.EventLog{
		StudentID: studentID,
		Type:      "sleep_request",
		Timestamp: now,
		Payload:   map[string]any{"expected_wake_time": expectedWake},
	}); err != nil {
		return model.SleepRequest{}, err
	}
	sleep, err := s.repo.InsertSleep(ctx, model.SleepRequest{
		StudentID:        studentID,
		StartTime:        now,
		ExpectedWakeTime: expectedWake,
	})
	if err != nil {
		return model.SleepRequest{}, err
	}
	s.hub.SendToAll(studentID, broadcast.Message{Type: "sleep_request", Data: sleep})
	return sleep, nil
}

// ReturnSleep closes the most recent ongoing sleep break. Late wake-ups
// raise a notification only, never a citation; the key is per sleep
// request so the button fires at most once.
func (s *Service) ReturnSleep(ctx context.Context, studentID string, now time.Time) (model.SleepRequest, error) {
	sleep, err := s.repo.LatestOngoingSleep(ctx, studentID)
	if err != nil {
		return model.SleepRequest{}, err
	}
	if sleep == nil {
		return model.SleepRequest{}, ErrNoOngoingSleep
	}
	if err := s.repo.CompleteSleep(ctx, sleep.ID, now); err != nil {
		return model.SleepRequest{}, err
	}
	sleep.ActualWakeTime = &now
	sleep.Status = model.StatusCompleted

	if delta := s.clock.SecondsLate(now, sleep.ExpectedWakeTime); delta > 0 {
		msg := fmt.Sprintf("Wake-up was %d seconds late.", delta)
		if _, err := s.notifier.Notify(ctx, studentID, model.CategoryLateSleepWake, msg, "sleep-return:"+sleep.ID); err != nil {
			return model.SleepRequest{}, err
		}
	}
	s.hub.SendToAll(studentID, broadcast.Message{Type: "sleep_return", Data: map[string]any{
		"id":               sleep.ID,
		"actual_wake_time": now,
	}})
	return *sleep, nil
}

// StartFocus opens a focus session.
func (s *Service) StartFocus(ctx context.Context, studentID string, meta map[string]any, now time.Time) (model.FocusSession, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return model.FocusSession{}, err
	}
	if student == nil {
		return model.FocusSession{}, ErrStudentNotFound
	}
	sess, err := s.repo.InsertFocusSession(ctx, model.FocusSession{
		StudentID: studentID,
		StartTime: now,
		Meta:      meta,
	})
	if err != nil {
		return model.FocusSession{}, err
	}
	if err := s.repo.InsertEvent(ctx, model.EventLog{
		StudentID: studentID,
		Type:      "focus_start",
		Timestamp: now,
		Payload:   map[string]any{"focus_session_id": sess.ID},
	}); err != nil {
		return model.FocusSession{}, err
	}
	s.hub.SendToAll(studentID, broadcast.Message{Type: "focus_start", Data: map[string]any{
		"id":         sess.ID,
		"start_time": sess.StartTime,
	}})
	return sess, nil
}

// StopFocus closes the newest session; stopping is invalid when none is
// open.
func (s *Service) StopFocus(ctx context.Context, studentID string, now time.Time) (model.FocusSession, error) {
	sess, err := s.repo.LatestFocusSession(ctx, studentID)
	if err != nil {
		return model.FocusSession{}, err
	}
	if sess == nil || sess.EndTime != nil {
		return model.FocusSession{}, ErrNoOpenFocusSession
	}
	duration := int(now.Sub(s.clock.In(sess.StartTime)) / time.Second)
	if err := s.repo.CloseFocusSession(ctx, sess.ID, now, duration); err != nil {
		return model.FocusSession{}, err
	}
	sess.EndTime = &now
	sess.DurationSeconds = &duration
	if err := s.repo.InsertEvent(ctx, model.EventLog{
		StudentID: studentID,
		Type:      "focus_stop",
		Timestamp: now,
		Payload:   map[string]any{"focus_session_id": sess.ID, "duration": duration},
	}); err != nil {
		return model.FocusSession{}, err
	}
	s.hub.SendToAll(studentID, broadcast.Message{Type: "focus_stop", Data: map[string]any{
		"id":               sess.ID,
		"end_time":         now,
		"duration_seconds": duration,
	}})
	return *sess, nil
}

// MarkAbsent forces the date's attendance to absent and issues the
// severity-5 citation. The status is re-forced on every call; the citation
// dedups on its (student, date, reason, severity) tuple.
func (s *Service) MarkAbsent(ctx context.Context, studentID, date string) (model.AttendanceRecord, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if student == nil {
		return model.AttendanceRecord{}, ErrStudentNotFound
	}
	if date == "" {
		date = s.clock.CivilDate(s.clock.Now())
	}
	rec, err := s.repo.MarkAbsent(ctx, studentID, date)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if _, err := s.notifier.IssueNotice(ctx, studentID, model.SeverityAbsence, model.ReasonUnauthorizedAbs, "admin_mark_absent", date); err != nil {
		return model.AttendanceRecord{}, err
	}
	return rec, nil
}

// ListNotices returns a student's citations, newest first.
func (s *Service) ListNotices(ctx context.Context, studentID string) ([]model.Notice, error) {
	return s.repo.ListNotices(ctx, studentID)
}

// ListNotifications returns a student's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, studentID string) ([]model.Notification, error) {
	return s.repo.ListNotifications(ctx, studentID)
}
