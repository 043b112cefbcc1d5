package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Student attendance statuses.
type StudentStatus string

const (
	StudentStatusPresent StudentStatus = "present"
	StudentStatusLate    StudentStatus = "late"
	StudentStatusAbsent  StudentStatus = "absent"
)

// Teacher daily attendance statuses. Pending is the only non-terminal state.
type TeacherStatus string

const (
	TeacherStatusPending   TeacherStatus = "pending"
	TeacherStatusConfirmed TeacherStatus = "confirmed"
	TeacherStatusLate      TeacherStatus = "late"
	TeacherStatusAbsent    TeacherStatus = "absent"
	TeacherStatusNoScan    TeacherStatus = "no_scan"
)

type LateStatus string

const (
	LateStatusOnTime LateStatus = "on_time"
	LateStatusLate   LateStatus = "late"
)

type ScanMode string

const (
	ScanModeArrival   ScanMode = "arrival"
	ScanModeDeparture ScanMode = "departure"
)

// TimeRule is the schedule policy governing lateness. At most one rule is
// active system-wide at any moment. TimeIn and TimeOut are wall-clock values
// in "HH:MM" 24h format.
type TimeRule struct {
	ID                   uuid.UUID
	Name                 string
	TimeIn               string
	TimeOut              string
	LateThresholdMinutes int
	EffectiveDate        *time.Time
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CutoffMinutes is the latest on-time minute of day: scheduled time-in plus
// the grace threshold. TimeIn is validated on write, so parse failures here
// degrade to midnight rather than erroring.
func (r TimeRule) CutoffMinutes() int {
	minutes, err := ClockMinutes(r.TimeIn)
	if err != nil {
		return r.LateThresholdMinutes
	}
	return minutes + r.LateThresholdMinutes
}

// Student carries the two independent scan identifiers: LRN (fixed-length
// numeric string, may be absent) and the system-generated student code.
type Student struct {
	ID          uuid.UUID
	LRN         string
	StudentCode string
	FirstName   string
	LastName    string
	IsActive    bool
}

type StudentAttendance struct {
	ID           uuid.UUID
	StudentID    uuid.UUID
	SchoolYearID uuid.UUID
	Day          time.Time
	CheckInTime  time.Time
	CheckOutTime *time.Time
	Status       StudentStatus
	// RecordedBy is nil for scan-recorded rows, the staff user otherwise.
	RecordedBy *uuid.UUID
}

// TeacherAttendance is the persistent state of the per-teacher-per-day state
// machine. TimeRuleID is frozen at the instant FirstStudentScan is set and is
// never re-derived from the currently active rule.
type TeacherAttendance struct {
	ID               uuid.UUID
	TeacherID        uuid.UUID
	SchoolYearID     uuid.UUID
	Day              time.Time
	TimeIn           *time.Time
	TimeOut          *time.Time
	FirstStudentScan *time.Time
	TimeRuleID       *uuid.UUID
	AttendanceStatus TeacherStatus
	LateStatus       *LateStatus
}

// ClassTeacher is the enrollment provider's answer for Phase-2 fan-out.
type ClassTeacher struct {
	ClassID   uuid.UUID
	TeacherID uuid.UUID
}

type TimeRuleAudit struct {
	ID        uuid.UUID
	RuleID    uuid.UUID
	Action    string
	ChangedBy uuid.UUID
	Reason    string
	OldValues map[string]any
	NewValues map[string]any
	CreatedAt time.Time
}

var errBadClock = errors.New("invalid clock value")

// ClockMinutes parses an "HH:MM" wall-clock string into minutes of day.
func ClockMinutes(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadClock, value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// MinutesOfDay ignores the date part entirely, which keeps lateness math
// stable across date boundaries and timezone-naive inputs.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Day truncates a timestamp to its calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
