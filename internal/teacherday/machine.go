// Package teacherday drives the per-teacher daily attendance lifecycle.
//
// Phase 1 (login) creates or refreshes the pending row. Phase 2 (first
// qualifying student scan) locks the governing time rule and finalizes the
// status. The two end-of-day sweeps close out whatever is left unresolved.
// Terminal states (confirmed, late, absent, no_scan) are never re-entered.
package teacherday

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campanile/attendance/internal/db"
	"campanile/attendance/internal/events"
	"campanile/attendance/internal/model"
)

var (
	ErrNoActiveRule = errors.New("no_active_rule")
	ErrNoRecord     = errors.New("no_attendance_record")
)

type Repository interface {
	TeacherAttendanceForDay(ctx context.Context, teacherID uuid.UUID, day time.Time) (model.TeacherAttendance, error)
	InsertTeacherAttendance(ctx context.Context, arg db.InsertTeacherAttendanceParams) (model.TeacherAttendance, error)
	UpdateTeacherTimeIn(ctx context.Context, id uuid.UUID, at time.Time) error
	SetTeacherTimeOut(ctx context.Context, teacherID uuid.UUID, day time.Time, at time.Time) (int64, error)
	LockFirstStudentScan(ctx context.Context, id uuid.UUID, scanAt time.Time, ruleID uuid.UUID) (int64, error)
	FinalizeTeacherAttendance(ctx context.Context, id uuid.UUID, status model.TeacherStatus, late model.LateStatus) (int64, error)
	InsertAbsentTeachers(ctx context.Context, schoolYearID uuid.UUID, day time.Time) (int64, error)
	MarkNoScanForDay(ctx context.Context, day time.Time) (int64, error)
}

// RuleSource reads rules from persisted state. The cached active rule is
// never consulted here: lock-in must freeze whatever is truly active at the
// decisive instant.
type RuleSource interface {
	ActiveTimeRule(ctx context.Context) (model.TimeRule, error)
	TimeRuleByID(ctx context.Context, id uuid.UUID) (model.TimeRule, error)
}

type SchoolYearSource interface {
	ActiveSchoolYear(ctx context.Context) (uuid.UUID, error)
}

type Machine struct {
	repo  Repository
	rules RuleSource
	years SchoolYearSource
	now   func() time.Time
}

func NewMachine(repo Repository, rules RuleSource, years SchoolYearSource) *Machine {
	return &Machine{repo: repo, rules: rules, years: years, now: time.Now}
}

// WithClock overrides the machine's clock.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// RecordTimeIn is Phase 1. Re-login the same day updates time_in in place and
// resets nothing else. Without an active school year the operation is a
// silent no-op and the returned record is nil.
func (m *Machine) RecordTimeIn(ctx context.Context, teacherID uuid.UUID) (*model.TeacherAttendance, *events.Event, error) {
	yearID, err := m.years.ActiveSchoolYear(ctx)
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	day := model.Day(now)

	record, err := m.repo.TeacherAttendanceForDay(ctx, teacherID, day)
	switch {
	case err == nil:
		if err := m.repo.UpdateTeacherTimeIn(ctx, record.ID, now); err != nil {
			return nil, nil, err
		}
		record.TimeIn = &now
	case errors.Is(err, db.ErrNoRows):
		record, err = m.repo.InsertTeacherAttendance(ctx, db.InsertTeacherAttendanceParams{
			ID:           uuid.New(),
			TeacherID:    teacherID,
			SchoolYearID: yearID,
			Day:          day,
			TimeIn:       &now,
			Status:       model.TeacherStatusPending,
		})
		if db.IsUniqueViolation(err) {
			// Two near-simultaneous logins; the other one created the row.
			record, err = m.repo.TeacherAttendanceForDay(ctx, teacherID, day)
			if err != nil {
				return nil, nil, err
			}
			if err := m.repo.UpdateTeacherTimeIn(ctx, record.ID, now); err != nil {
				return nil, nil, err
			}
			record.TimeIn = &now
		} else if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	event := events.New(events.TypeLogin, now, LoginPayload{
		TeacherID: teacherID,
		Record:    record,
	})
	return &record, &event, nil
}

// RecordTimeOut sets the teacher's logout time, independent of the state
// machine phases.
func (m *Machine) RecordTimeOut(ctx context.Context, teacherID uuid.UUID) error {
	now := m.now()
	updated, err := m.repo.SetTeacherTimeOut(ctx, teacherID, model.Day(now), now)
	if err != nil {
		return err
	}
	if updated == 0 {
		return ErrNoRecord
	}
	return nil
}

// RecordFirstStudentScan is the Phase 2 trigger. It is a no-op (not an error)
// when no row exists for the day, the row left pending, or the first scan is
// already locked. The rule active at this exact instant is frozen onto the
// row; later rule edits never alter the determination.
func (m *Machine) RecordFirstStudentScan(ctx context.Context, teacherID uuid.UUID, scanAt time.Time) (*events.Event, error) {
	record, err := m.repo.TeacherAttendanceForDay(ctx, teacherID, model.Day(scanAt))
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.AttendanceStatus != model.TeacherStatusPending || record.FirstStudentScan != nil {
		return nil, nil
	}

	rule, err := m.rules.ActiveTimeRule(ctx)
	if errors.Is(err, db.ErrNoRows) {
		return nil, ErrNoActiveRule
	}
	if err != nil {
		return nil, err
	}

	locked, err := m.repo.LockFirstStudentScan(ctx, record.ID, scanAt, rule.ID)
	if err != nil {
		return nil, err
	}
	if locked == 0 {
		// Lost the race to a concurrent scan; the first write won.
		return nil, nil
	}
	record.FirstStudentScan = &scanAt
	record.TimeRuleID = &rule.ID

	return m.finalize(ctx, record)
}

// FinalizeAttendance recomputes and applies the final status for a
// teacher-day. No-op when the row is missing or the lock has not happened.
func (m *Machine) FinalizeAttendance(ctx context.Context, teacherID uuid.UUID, day time.Time) (*events.Event, error) {
	record, err := m.repo.TeacherAttendanceForDay(ctx, teacherID, model.Day(day))
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.finalize(ctx, record)
}

func (m *Machine) finalize(ctx context.Context, record model.TeacherAttendance) (*events.Event, error) {
	if record.TimeRuleID == nil || record.FirstStudentScan == nil || record.TimeIn == nil {
		return nil, nil
	}
	rule, err := m.rules.TimeRuleByID(ctx, *record.TimeRuleID)
	if err != nil {
		return nil, err
	}

	status, late := Judge(rule, *record.TimeIn, *record.FirstStudentScan)
	updated, err := m.repo.FinalizeTeacherAttendance(ctx, record.ID, status, late)
	if err != nil {
		return nil, err
	}
	if updated == 0 {
		// Row was no longer pending; suppress the duplicate event.
		return nil, nil
	}

	event := events.New(events.TypeFinalized, m.now(), FinalizedPayload{
		TeacherID:  record.TeacherID,
		Day:        record.Day,
		Status:     status,
		LateStatus: late,
		TimeRuleID: *record.TimeRuleID,
	})
	return &event, nil
}

// Judge applies the conjunctive fairness rule: the pair is on time only when
// both the teacher's login and the first student scan fall at or before the
// scheduled time-in plus the grace threshold. Comparison uses time-of-day
// minutes only.
func Judge(rule model.TimeRule, teacherIn, firstScan time.Time) (model.TeacherStatus, model.LateStatus) {
	cutoff := rule.CutoffMinutes()
	if model.MinutesOfDay(teacherIn) > cutoff || model.MinutesOfDay(firstScan) > cutoff {
		return model.TeacherStatusLate, model.LateStatusLate
	}
	return model.TeacherStatusConfirmed, model.LateStatusOnTime
}

// MarkAbsentTeachers creates an absent row for every active teacher with no
// record today. Idempotent: teachers with any row, even bare pending, are
// untouched. Returns the number of rows created.
func (m *Machine) MarkAbsentTeachers(ctx context.Context, schoolYearID *uuid.UUID) (int64, error) {
	yearID := uuid.Nil
	if schoolYearID != nil {
		yearID = *schoolYearID
	} else {
		active, err := m.years.ActiveSchoolYear(ctx)
		if errors.Is(err, db.ErrNoRows) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		yearID = active
	}
	return m.repo.InsertAbsentTeachers(ctx, yearID, model.Day(m.now()))
}

// MarkNoScanTeachers moves every row still pending today to no_scan and
// returns the number updated. Terminal rows are untouched.
func (m *Machine) MarkNoScanTeachers(ctx context.Context) (int64, error) {
	return m.repo.MarkNoScanForDay(ctx, model.Day(m.now()))
}

type LoginPayload struct {
	TeacherID uuid.UUID               `json:"teacher_id"`
	Record    model.TeacherAttendance `json:"record"`
}

type FinalizedPayload struct {
	TeacherID  uuid.UUID           `json:"teacher_id"`
	Day        time.Time           `json:"day"`
	Status     model.TeacherStatus `json:"status"`
	LateStatus model.LateStatus    `json:"late_status"`
	TimeRuleID uuid.UUID           `json:"time_rule_id"`
}
