// Package model holds the persistence entities shared across the service.
package model

import "time"

// Request/attendance statuses.
const (
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"

	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceUnknown = "unknown"
)

// Notice severities.
const (
	SeverityMinor   = 1
	SeverityMajor   = 2
	SeverityAbsence = 5
)

// NoticeType is the fixed label carried by every notice.
const NoticeType = "citation"

// Notice reason codes.
const (
	ReasonCheckinLate      = "check-in-late"
	ReasonOutingReturnLate = "outing-return-late"
	ReasonUnauthorizedAbs  = "unauthorized-absence"
)

// Notification categories.
const (
	CategoryLateArrival      = "late-arrival"
	CategoryLateOutingReturn = "late-outing-return"
	CategoryLateSleepWake    = "late-sleep-wake"
)

// Student is a registered student with expected daily times stored as HH:MM:SS.
type Student struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Grade            string    `json:"grade,omitempty"`
	Classroom        string    `json:"classroom,omitempty"`
	GuardianPhone    string    `json:"guardian_phone,omitempty"`
	ExpectedCheckIn  string    `json:"expected_check_in"`
	ExpectedCheckOut string    `json:"expected_check_out"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AttendanceRecord is the single per-student per-civil-date record.
type AttendanceRecord struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	Date         string     `json:"date"` // YYYY-MM-DD in the civil zone
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	Status       string     `json:"status"`
}

// OutingRequest tracks one outing from request to return.
type OutingRequest struct {
	ID                 string     `json:"id"`
	StudentID          string     `json:"student_id"`
	StartTime          time.Time  `json:"start_time"`
	ExpectedReturnTime time.Time  `json:"expected_return_time"`
	ActualReturnTime   *time.Time `json:"actual_return_time,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
}

// SleepRequest tracks one sleep break from request to wake.
type SleepRequest struct {
	ID               string     `json:"id"`
	StudentID        string     `json:"student_id"`
	StartTime        time.Time  `json:"start_time"`
	ExpectedWakeTime time.Time  `json:"expected_wake_time"`
	ActualWakeTime   *time.Time `json:"actual_wake_time,omitempty"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
}

// FocusSession is a timed study block.
type FocusSession struct {
	ID              string         `json:"id"`
	StudentID       string         `json:"student_id"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Notice is a formal tardiness citation, unique per
// (student, date, reason, severity).
type Notice struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Type      string    `json:"type"`
	Severity  int       `json:"severity"`
	Reason    string    `json:"reason"`
	Source    string    `json:"source"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is a transient live alert, unique per non-empty dedupe key.
type Notification struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	Category     string    `json:"category"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
	DedupeKey    string    `json:"dedupe_key,omitempty"`
}

// EventLog is an append-only audit row; never updated or deleted.
type EventLog struct {
	ID        string         `json:"id"`
	StudentID string         `json:"student_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
