// Package presence persists and mutates the study-facility records.
package presence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studyflow/internal/model"
)

// Repository persists presence data in Postgres. Uniqueness invariants
// (attendance per student per date, notice tuple, notification dedupe key)
// are enforced by schema constraints so concurrent writers cannot double
// insert.
type Repository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB, log *zap.Logger) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repository{db: db, log: log}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		classroom TEXT NOT NULL DEFAULT '',
		guardian_phone TEXT NOT NULL DEFAULT '',
		expected_check_in TEXT NOT NULL DEFAULT '09:00:00',
		expected_check_out TEXT NOT NULL DEFAULT '18:00:00',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		date TEXT NOT NULL,
		check_in_time TIMESTAMPTZ,
		check_out_time TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'present',
		UNIQUE (student_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS outing_requests (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		expected_return_time TIMESTAMPTZ NOT NULL,
		actual_return_time TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'ongoing',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sleep_requests (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		expected_wake_time TIMESTAMPTZ NOT NULL,
		actual_wake_time TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'ongoing',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS focus_sessions (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		duration_seconds INTEGER,
		meta JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS notices (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		type TEXT NOT NULL,
		severity INTEGER NOT NULL,
		reason TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, date, reason, severity)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		dedupe_key TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notifications_dedupe_key_uq
		ON notifications (dedupe_key) WHERE dedupe_key <> ''`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		payload JSONB
	)`,
}

// EnsureSchema creates tables and the uniqueness constraints the dedup
// logic depends on.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------- Students ----------

// UpsertStudent creates or updates a student. Expected times default to
// 09:00:00 / 18:00:00 on first creation only; on update, empty expected
// times leave the stored values untouched.
func (r *Repository) UpsertStudent(ctx context.Context, s model.Student) (model.Student, error) {
	if s.ID == "" {
		return model.Student{}, errors.New("student id required")
	}
	checkIn := s.ExpectedCheckIn
	if checkIn == "" {
		checkIn = "09:00:00"
	}
	checkOut := s.ExpectedCheckOut
	if checkOut == "" {
		checkOut = "18:00:00"
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, name, grade, classroom, guardian_phone, expected_check_in, expected_check_out)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			grade = EXCLUDED.grade,
			classroom = EXCLUDED.classroom,
			guardian_phone = EXCLUDED.guardian_phone,
			expected_check_in = COALESCE(NULLIF($8, ''), students.expected_check_in),
			expected_check_out = COALESCE(NULLIF($9, ''), students.expected_check_out),
			updated_at = NOW()
		RETURNING id, name, grade, classroom, guardian_phone, expected_check_in, expected_check_out, created_at, updated_at
	`, s.ID, s.Name, s.Grade, s.Classroom, s.GuardianPhone, checkIn, checkOut, s.ExpectedCheckIn, s.ExpectedCheckOut)
	return scanStudent(row)
}

// GetStudent returns a student or nil when absent.
func (r *Repository) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, grade, classroom, guardian_phone, expected_check_in, expected_check_out, created_at, updated_at
		FROM students WHERE id = $1
	`, id)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListStudentIDs returns every registered student id.
func (r *Repository) ListStudentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM students ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (model.Student, error) {
	var s model.Student
	err := row.Scan(&s.ID, &s.Name, &s.Grade, &s.Classroom, &s.GuardianPhone,
		&s.ExpectedCheckIn, &s.ExpectedCheckOut, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// ---------- Attendance ----------

// GetAttendance returns the record for (student, date) or nil.
func (r *Repository) GetAttendance(ctx context.Context, studentID, date string) (*model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, date, check_in_time, check_out_time, status
		FROM attendance_records WHERE student_id = $1 AND date = $2
	`, studentID, date)
	var rec model.AttendanceRecord
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.CheckInTime, &rec.CheckOutTime, &rec.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetOrCreateAttendance lazily creates the day's record with status
// "present". The unique (student_id, date) constraint makes concurrent
// first-events converge on one row.
func (r *Repository) GetOrCreateAttendance(ctx context.Context, studentID, date string) (model.AttendanceRecord, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, date, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, date) DO NOTHING
	`, uuid.NewString(), studentID, date, model.AttendancePresent)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	rec, err := r.GetAttendance(ctx, studentID, date)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if rec == nil {
		return model.AttendanceRecord{}, errors.New("attendance record vanished after upsert")
	}
	return *rec, nil
}

// SetCheckInTime records the check-in instant once; later calls keep the
// first value.
func (r *Repository) SetCheckInTime(ctx context.Context, studentID, date string, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET check_in_time = COALESCE(check_in_time, $3)
		WHERE student_id = $1 AND date = $2
	`, studentID, date, t)
	return err
}

// SetCheckOutTime records (or moves) the check-out instant.
func (r *Repository) SetCheckOutTime(ctx context.Context, studentID, date string, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET check_out_time = $3
		WHERE student_id = $1 AND date = $2
	`, studentID, date, t)
	return err
}

// MarkAbsent forces status=absent for the date, creating the record when
// missing. Every call re-forces the status.
func (r *Repository) MarkAbsent(ctx context.Context, studentID, date string) (model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, date, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, date) DO UPDATE SET status = $4
		RETURNING id, student_id, date, check_in_time, check_out_time, status
	`, uuid.NewString(), studentID, date, model.AttendanceAbsent)
	var rec model.AttendanceRecord
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.CheckInTime, &rec.CheckOutTime, &rec.Status)
	return rec, err
}

// ---------- Outings ----------

// InsertOuting writes a new ongoing outing.
func (r *Repository) InsertOuting(ctx context.Context, o model.OutingRequest) (model.OutingRequest, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = model.StatusOngoing
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO outing_requests (id, student_id, start_time, expected_return_time, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, o.ID, o.StudentID, o.StartTime, o.ExpectedReturnTime, o.Status)
	if err := row.Scan(&o.CreatedAt); err != nil {
		return model.OutingRequest{}, err
	}
	return o, nil
}

// LatestOngoingOuting returns the newest ongoing outing by creation order,
// or nil. Should a bug ever leave two ongoing, the latest wins.
func (r *Repository) LatestOngoingOuting(ctx context.Context, studentID string) (*model.OutingRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, start_time, expected_return_time, actual_return_time, status, created_at
		FROM outing_requests
		WHERE student_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, studentID, model.StatusOngoing)
	var o model.OutingRequest
	if err := row.Scan(&o.ID, &o.StudentID, &o.StartTime, &o.ExpectedReturnTime, &o.ActualReturnTime, &o.Status, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// CompleteOuting closes an outing with its actual return instant.
func (r *Repository) CompleteOuting(ctx context.Context, id string, actualReturn time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outing_requests
		SET actual_return_time = $2, status = $3
		WHERE id = $1
	`, id, actualReturn, model.StatusCompleted)
	return err
}

// ---------- Sleep breaks ----------

// InsertSleep writes a new ongoing sleep request.
func (r *Repository) InsertSleep(ctx context.Context, s model.SleepRequest) (model.SleepRequest, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = model.StatusOngoing
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sleep_requests (id, student_id, start_time, expected_wake_time, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, s.ID, s.StudentID, s.StartTime, s.ExpectedWakeTime, s.Status)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return model.SleepRequest{}, err
	}
	return s, nil
}

// LatestOngoingSleep returns the newest ongoing sleep request or nil.
func (r *Repository) LatestOngoingSleep(ctx context.Context, studentID string) (*model.SleepRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, start_time, expected_wake_time, actual_wake_time, status, created_at
		FROM sleep_requests
		WHERE student_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, studentID, model.StatusOngoing)
	var s model.SleepRequest
	if err := row.Scan(&s.ID, &s.StudentID, &s.StartTime, &s.ExpectedWakeTime, &s.ActualWakeTime, &s.Status, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CompleteSleep closes a sleep request with its actual wake instant.
func (r *Repository) CompleteSleep(ctx context.Context, id string, actualWake time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sleep_requests
		SET actual_wake_time = $2, status = $3
		WHERE id = $1
	`, id, actualWake, model.StatusCompleted)
	return err
}

// ---------- Focus sessions ----------

// InsertFocusSession opens a new session.
func (r *Repository) InsertFocusSession(ctx context.Context, f model.FocusSession) (model.FocusSession, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	meta, err := json.Marshal(f.Meta)
	if err != nil {
		return model.FocusSession{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO focus_sessions (id, student_id, start_time, meta)
		VALUES ($1,$2,$3,$4)
	`, f.ID, f.StudentID, f.StartTime, meta)
	if err != nil {
		return model.FocusSession{}, err
	}
	return f, nil
}

// LatestFocusSession returns the student's newest session, open or not,
// or nil when there is none.
func (r *Repository) LatestFocusSession(ctx context.Context, studentID string) (*model.FocusSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, start_time, end_time, duration_seconds, meta
		FROM focus_sessions
		WHERE student_id = $1
		ORDER BY start_time DESC, id DESC
		LIMIT 1
	`, studentID)
	var f model.FocusSession
	var meta []byte
	if err := row.Scan(&f.ID, &f.StudentID, &f.StartTime, &f.EndTime, &f.DurationSeconds, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &f.Meta); err != nil {
			r.log.Warn("bad focus session meta", zap.String("id", f.ID), zap.Error(err))
		}
	}
	return &f, nil
}

// CloseFocusSession sets the end instant and computed duration.
func (r *Repository) CloseFocusSession(ctx context.Context, id string, end time.Time, durationSeconds int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE focus_sessions
		SET end_time = $2, duration_seconds = $3
		WHERE id = $1
	`, id, end, durationSeconds)
	return err
}

// ---------- Event log ----------

// InsertEvent appends an audit row. Rows are never updated or deleted.
func (r *Repository) InsertEvent(ctx context.Context, e model.EventLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO event_logs (id, student_id, type, timestamp, payload)
		VALUES ($1,$2,$3,$4,$5)
	`, e.ID, e.StudentID, e.Type, e.Timestamp, payload)
	return err
}

// ---------- Notifications ----------

// InsertNotificationDedupe inserts a notification unless a row with the same
// non-empty dedupe key exists. The unique index makes check-and-insert one
// atomic statement, so two racing evaluations cannot both create. Returns
// the stored record and whether this call created it.
func (r *Repository) InsertNotificationDedupe(ctx context.Context, n model.Notification) (model.Notification, bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, student_id, category, message, dedupe_key)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (dedupe_key) WHERE dedupe_key <> '' DO NOTHING
		RETURNING created_at
	`, n.ID, n.StudentID, n.Category, n.Message, n.DedupeKey)
	err := row.Scan(&n.CreatedAt)
	if err == nil {
		return n, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, false, err
	}
	// Dedup hit: hand back the existing row.
	existing, err := r.getNotificationByKey(ctx, n.DedupeKey)
	if err != nil {
		return model.Notification{}, false, err
	}
	return existing, false, nil
}

func (r *Repository) getNotificationByKey(ctx context.Context, key string) (model.Notification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, category, message, created_at, acknowledged, dedupe_key
		FROM notifications WHERE dedupe_key = $1
	`, key)
	var n model.Notification
	err := row.Scan(&n.ID, &n.StudentID, &n.Category, &n.Message, &n.CreatedAt, &n.Acknowledged, &n.DedupeKey)
	return n, err
}

// ListNotifications returns a student's notifications, newest first.
func (r *Repository) ListNotifications(ctx context.Context, studentID string) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, category, message, created_at, acknowledged, dedupe_key
		FROM notifications
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.StudentID, &n.Category, &n.Message, &n.CreatedAt, &n.Acknowledged, &n.DedupeKey); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// ---------- Notices ----------

// InsertNoticeDedupe inserts a notice unless the (student, date, reason,
// severity) tuple exists; the unique constraint keeps the check-and-insert
// atomic. Returns the stored record and whether this call created it.
func (r *Repository) InsertNoticeDedupe(ctx context.Context, n model.Notice) (model.Notice, bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Type == "" {
		n.Type = model.NoticeType
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO notices (id, student_id, type, severity, reason, source, date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (student_id, date, reason, severity) DO NOTHING
		RETURNING created_at
	`, n.ID, n.StudentID, n.Type, n.Severity, n.Reason, n.Source, n.Date)
	err := row.Scan(&n.CreatedAt)
	if err == nil {
		return n, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Notice{}, false, err
	}
	existing, err := r.getNoticeByTuple(ctx, n.StudentID, n.Date, n.Reason, n.Severity)
	if err != nil {
		return model.Notice{}, false, err
	}
	return existing, false, nil
}

func (r *Repository) getNoticeByTuple(ctx context.Context, studentID, date, reason string, severity int) (model.Notice, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, type, severity, reason, source, date, created_at
		FROM notices
		WHERE student_id = $1 AND date = $2 AND reason = $3 AND severity = $4
	`, studentID, date, reason, severity)
	var n model.Notice
	err := row.Scan(&n.ID, &n.StudentID, &n.Type, &n.Severity, &n.Reason, &n.Source, &n.Date, &n.CreatedAt)
	return n, err
}

// ListNotices returns a student's notices, newest first.
func (r *Repository) ListNotices(ctx context.Context, studentID string) ([]model.Notice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, type, severity, reason, source, date, created_at
		FROM notices
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Notice
	for rows.Next() {
		var n model.Notice
		if err := rows.Scan(&n.ID, &n.StudentID, &n.Type, &n.Severity, &n.Reason, &n.Source, &n.Date, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
