// Package scan resolves QR scan codes and records student attendance. An
// arrival scan can trigger the teacher-side Phase 2 lock for every class the
// student is actively enrolled in.
package scan

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
	ErrNoActiveRule       = errors.New("no_active_rule")
	ErrNoActiveSchoolYear = errors.New("no_active_school_year")
	ErrNoAttendanceRecord = errors.New("no_attendance_record")
)

// DuplicateScanError carries the matched student so the scanner UI can show
// who was rejected and why. Nothing is mutated.
type DuplicateScanError struct {
	Student  model.Student
	Existing model.StudentAttendance
}

func (e *DuplicateScanError) Error() string { return "duplicate_scan" }

type AlreadyCheckedOutError struct {
	Student      model.Student
	CheckedOutAt time.Time
}

func (e *AlreadyCheckedOutError) Error() string { return "already_checked_out" }

type AttendanceRepo interface {
	StudentAttendanceForDay(ctx context.Context, studentID uuid.UUID, day time.Time) (model.StudentAttendance, error)
	InsertStudentAttendance(ctx context.Context, arg db.InsertStudentAttendanceParams) (model.StudentAttendance, error)
	SetStudentCheckOut(ctx context.Context, id uuid.UUID, at time.Time) error
}

type RuleSource interface {
	ActiveTimeRule(ctx context.Context) (model.TimeRule, error)
}

type SchoolYearSource interface {
	ActiveSchoolYear(ctx context.Context) (uuid.UUID, error)
}

type EnrollmentSource interface {
	ActiveClassesOfStudent(ctx context.Context, studentID uuid.UUID) ([]model.ClassTeacher, error)
}

// PhaseTwoTrigger is satisfied by the teacherday machine.
type PhaseTwoTrigger interface {
	RecordFirstStudentScan(ctx context.Context, teacherID uuid.UUID, scanAt time.Time) (*events.Event, error)
}

type ScanResult struct {
	Student model.Student
	Record  model.StudentAttendance
	Mode    model.ScanMode
	// Events produced by this scan; the caller dispatches them.
	Events []events.Event
	// TriggerErr aggregates non-fatal Phase 2 fan-out failures. The student
	// record was still written; callers log this rather than fail the scan.
	TriggerErr error
}

type Recorder struct {
	lookup      *Lookup
	repo        AttendanceRepo
	rules       RuleSource
	years       SchoolYearSource
	enrollments EnrollmentSource
	trigger     PhaseTwoTrigger
	now         func() time.Time
}

func NewRecorder(lookup *Lookup, repo AttendanceRepo, rules RuleSource, years SchoolYearSource, enrollments EnrollmentSource, trigger PhaseTwoTrigger) *Recorder {
	return &Recorder{
		lookup:      lookup,
		repo:        repo,
		rules:       rules,
		years:       years,
		enrollments: enrollments,
		trigger:     trigger,
		now:         time.Now,
	}
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) ProcessScan(ctx context.Context, code string, mode model.ScanMode) (ScanResult, error) {
	student, err := r.lookup.FindByScanCode(ctx, code)
	if err != nil {
		return ScanResult{}, err
	}
	switch mode {
	case model.ScanModeDeparture:
		return r.processDeparture(ctx, student)
	default:
		return r.processArrival(ctx, student)
	}
}

func (r *Recorder) processArrival(ctx context.Context, student model.Student) (ScanResult, error) {
	now := r.now()
	day := model.Day(now)

	existing, err := r.repo.StudentAttendanceForDay(ctx, student.ID, day)
	if err == nil {
		return ScanResult{}, &DuplicateScanError{Student: student, Existing: existing}
	}
	if !errors.Is(err, db.ErrNoRows) {
		return ScanResult{}, err
	}

	yearID, err := r.years.ActiveSchoolYear(ctx)
	if errors.Is(err, db.ErrNoRows) {
		return ScanResult{}, ErrNoActiveSchoolYear
	}
	if err != nil {
		return ScanResult{}, err
	}

	// Write decision, so the persisted rule is consulted, never the cache.
	rule, err := r.rules.ActiveTimeRule(ctx)
	if errors.Is(err, db.ErrNoRows) {
		return ScanResult{}, ErrNoActiveRule
	}
	if err != nil {
		return ScanResult{}, err
	}

	status := model.StudentStatusPresent
	if model.MinutesOfDay(now) > rule.CutoffMinutes() {
		status = model.StudentStatusLate
	}

	record, err := r.repo.InsertStudentAttendance(ctx, db.InsertStudentAttendanceParams{
		ID:           uuid.New(),
		StudentID:    student.ID,
		SchoolYearID: yearID,
		Day:          day,
		CheckInTime:  now,
		Status:       status,
	})
	if db.IsUniqueViolation(err) {
		// A second scanner station won the insert race.
		existing, lookupErr := r.repo.StudentAttendanceForDay(ctx, student.ID, day)
		if lookupErr != nil {
			existing = model.StudentAttendance{}
		}
		return ScanResult{}, &DuplicateScanError{Student: student, Existing: existing}
	}
	if err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{
		Student: student,
		Record:  record,
		Mode:    model.ScanModeArrival,
		Events: []events.Event{
			events.New(events.TypeScan, now, ScanPayload{Student: student, Record: record, Mode: model.ScanModeArrival}),
		},
	}

	// Phase 2 fan-out: every actively-enrolled class gets an attempt; the
	// machine's set-once guard means only the first can mutate state.
	classes, err := r.enrollments.ActiveClassesOfStudent(ctx, student.ID)
	if err != nil {
		result.TriggerErr = err
		return result, nil
	}
	var triggerErrs []error
	for _, class := range classes {
		event, err := r.trigger.RecordFirstStudentScan(ctx, class.TeacherID, now)
		if err != nil {
			triggerErrs = append(triggerErrs, err)
			continue
		}
		if event != nil {
			result.Events = append(result.Events, *event)
		}
	}
	result.TriggerErr = errors.Join(triggerErrs...)
	return result, nil
}

func (r *Recorder) processDeparture(ctx context.Context, student model.Student) (ScanResult, error) {
	now := r.now()

	record, err := r.repo.StudentAttendanceForDay(ctx, student.ID, model.Day(now))
	if errors.Is(err, db.ErrNoRows) {
		return ScanResult{}, ErrNoAttendanceRecord
	}
	if err != nil {
		return ScanResult{}, err
	}
	if record.CheckOutTime != nil {
		return ScanResult{}, &AlreadyCheckedOutError{Student: student, CheckedOutAt: *record.CheckOutTime}
	}

	if err := r.repo.SetStudentCheckOut(ctx, record.ID, now); err != nil {
		return ScanResult{}, err
	}
	record.CheckOutTime = &now

	return ScanResult{
		Student: student,
		Record:  record,
		Mode:    model.ScanModeDeparture,
		Events: []events.Event{
			events.New(events.TypeScan, now, ScanPayload{Student: student, Record: record, Mode: model.ScanModeDeparture}),
		},
	}, nil
}

// RecordManual creates an attendance row entered by staff rather than a scan;
// recorded_by distinguishes it from device-recorded rows. The same per-day
// uniqueness applies.
func (r *Recorder) RecordManual(ctx context.Context, studentID uuid.UUID, status model.StudentStatus, recordedBy uuid.UUID) (model.StudentAttendance, error) {
	now := r.now()
	yearID, err := r.years.ActiveSchoolYear(ctx)
	if errors.Is(err, db.ErrNoRows) {
		return model.StudentAttendance{}, ErrNoActiveSchoolYear
	}
	if err != nil {
		return model.StudentAttendance{}, err
	}
	record, err := r.repo.InsertStudentAttendance(ctx, db.InsertStudentAttendanceParams{
		ID:           uuid.New(),
		StudentID:    studentID,
		SchoolYearID: yearID,
		Day:          model.Day(now),
		CheckInTime:  now,
		Status:       status,
		RecordedBy:   &recordedBy,
	})
	if db.IsUniqueViolation(err) {
		existing, lookupErr := r.repo.StudentAttendanceForDay(ctx, studentID, model.Day(now))
		if lookupErr != nil {
			existing = model.StudentAttendance{}
		}
		return model.StudentAttendance{}, &DuplicateScanError{Existing: existing}
	}
	return record, err
}

type ScanPayload struct {
	Student model.Student           `json:"student"`
	Record  model.StudentAttendance `json:"record"`
	Mode    model.ScanMode          `json:"mode"`
}
