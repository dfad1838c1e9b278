// Package notify persists notifications and notices through the dedup
// store and fans them out over the broadcast hub.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"studyflow/internal/broadcast"
	"studyflow/internal/clock"
	"studyflow/internal/metrics"
	"studyflow/internal/model"
)

// Store is the persistence the emitter needs. Both insert operations are
// atomic per key: they either create or return the existing record.
type Store interface {
	InsertNotificationDedupe(ctx context.Context, n model.Notification) (model.Notification, bool, error)
	InsertNoticeDedupe(ctx context.Context, n model.Notice) (model.Notice, bool, error)
	GetStudent(ctx context.Context, id string) (*model.Student, error)
}

// Broadcaster delivers live messages; delivery failure is invisible here.
type Broadcaster interface {
	SendToAll(studentID string, msg broadcast.Message)
}

// Notifier is the single emitter of notifications and notices.
type Notifier struct {
	store Store
	hub   Broadcaster
	clock *clock.Clock
	sms   *SMSClient // nil disables escalation
	log   *zap.Logger
}

// NewNotifier creates an emitter. sms may be nil.
func NewNotifier(store Store, hub Broadcaster, clk *clock.Clock, sms *SMSClient, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{store: store, hub: hub, clock: clk, sms: sms, log: log}
}

// Notify creates a notification unless dedupeKey (when non-empty) already
// exists, broadcasting only on creation. The returned record may be
// pre-existing; callers must not assume a call means "newly created".
func (n *Notifier) Notify(ctx context.Context, studentID, category, message, dedupeKey string) (model.Notification, error) {
	rec, created, err := n.store.InsertNotificationDedupe(ctx, model.Notification{
		StudentID: studentID,
		Category:  category,
		Message:   message,
		DedupeKey: dedupeKey,
	})
	if err != nil {
		return model.Notification{}, err
	}
	if !created {
		metrics.DedupeHits.WithLabelValues("notification").Inc()
		return rec, nil
	}
	metrics.NotificationsCreated.Inc()
	n.log.Info("notification created",
		zap.String("student_id", studentID),
		zap.String("category", category),
		zap.String("dedupe_key", dedupeKey))
	n.hub.SendToAll(studentID, broadcast.Message{Type: "notification", Data: rec})
	return rec, nil
}

// IssueNotice creates a formal citation unless the (student, date, reason,
// severity) tuple exists, broadcasting only on creation. An empty date
// defaults to today's civil date. Severity-2+ notices escalate to the
// guardian's phone over SMS, best effort.
func (n *Notifier) IssueNotice(ctx context.Context, studentID string, severity int, reason, source, date string) (model.Notice, error) {
	if date == "" {
		date = n.clock.CivilDate(n.clock.Now())
	}
	rec, created, err := n.store.InsertNoticeDedupe(ctx, model.Notice{
		StudentID: studentID,
		Type:      model.NoticeType,
		Severity:  severity,
		Reason:    reason,
		Source:    source,
		Date:      date,
	})
	if err != nil {
		return model.Notice{}, err
	}
	if !created {
		metrics.DedupeHits.WithLabelValues("notice").Inc()
		return rec, nil
	}
	metrics.NoticesCreated.Inc()
	n.log.Info("notice issued",
		zap.String("student_id", studentID),
		zap.Int("severity", severity),
		zap.String("reason", reason),
		zap.String("source", source),
		zap.String("date", date))
	n.hub.SendToAll(studentID, broadcast.Message{Type: "notice", Data: rec})
	if n.sms != nil && severity >= model.SeverityMajor {
		go n.escalate(rec)
	}
	return rec, nil
}

// escalate sends the guardian SMS for a freshly created notice. Runs off
// the request path; failure only logs.
func (n *Notifier) escalate(notice model.Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	student, err := n.store.GetStudent(ctx, notice.StudentID)
	if err != nil || student == nil || student.GuardianPhone == "" {
		metrics.SMSSends.WithLabelValues("skipped").Inc()
		return
	}
	msg := fmt.Sprintf("[StudyFlow] %s: %s (severity %d, %s)", student.Name, notice.Reason, notice.Severity, notice.Date)
	if err := n.sms.Send(ctx, student.GuardianPhone, msg); err != nil {
		metrics.SMSSends.WithLabelValues("failed").Inc()
		n.log.Warn("sms escalation failed", zap.String("notice_id", notice.ID), zap.Error(err))
		return
	}
	metrics.SMSSends.WithLabelValues("sent").Inc()
}
