package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"campanile/attendance/internal/model"
)

// Time rules

const timeRuleColumns = `id, name, to_char(time_in, 'HH24:MI'), to_char(time_out, 'HH24:MI'), late_threshold_minutes, effective_date, is_active, created_at, updated_at`

func scanTimeRule(row interface{ Scan(...any) error }) (model.TimeRule, error) {
	var rule model.TimeRule
	err := row.Scan(&rule.ID, &rule.Name, &rule.TimeIn, &rule.TimeOut, &rule.LateThresholdMinutes, &rule.EffectiveDate, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	return rule, err
}

func (q *Queries) ActiveTimeRule(ctx context.Context) (model.TimeRule, error) {
	row := q.db.QueryRow(ctx, `SELECT `+timeRuleColumns+` FROM time_rules WHERE is_active LIMIT 1`)
	return scanTimeRule(row)
}

func (q *Queries) TimeRuleByID(ctx context.Context, id uuid.UUID) (model.TimeRule, error) {
	row := q.db.QueryRow(ctx, `SELECT `+timeRuleColumns+` FROM time_rules WHERE id = $1`, id)
	return scanTimeRule(row)
}

func (q *Queries) ListTimeRules(ctx context.Context) ([]model.TimeRule, error) {
	rows, err := q.db.Query(ctx, `SELECT `+timeRuleColumns+` FROM time_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []model.TimeRule
	for rows.Next() {
		rule, err := scanTimeRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type InsertTimeRuleParams struct {
	ID                   uuid.UUID
	Name                 string
	TimeIn               string
	TimeOut              string
	LateThresholdMinutes int
	EffectiveDate        *time.Time
}

func (q *Queries) InsertTimeRule(ctx context.Context, arg InsertTimeRuleParams) (model.TimeRule, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO time_rules (id, name, time_in, time_out, late_threshold_minutes, effective_date, is_active, created_at, updated_at)
		VALUES ($1, $2, $3::time, $4::time, $5, $6, false, now(), now())
		RETURNING `+timeRuleColumns,
		arg.ID, arg.Name, arg.TimeIn, arg.TimeOut, arg.LateThresholdMinutes, arg.EffectiveDate)
	return scanTimeRule(row)
}

type UpdateTimeRuleParams struct {
	ID                   uuid.UUID
	Name                 string
	TimeIn               string
	TimeOut              string
	LateThresholdMinutes int
	EffectiveDate        *time.Time
}

func (q *Queries) UpdateTimeRule(ctx context.Context, arg UpdateTimeRuleParams) (model.TimeRule, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE time_rules
		SET name = $2, time_in = $3::time, time_out = $4::time, late_threshold_minutes = $5, effective_date = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+timeRuleColumns,
		arg.ID, arg.Name, arg.TimeIn, arg.TimeOut, arg.LateThresholdMinutes, arg.EffectiveDate)
	return scanTimeRule(row)
}

// ActivateTimeRuleExclusive flips the target rule active and every other rule
// inactive in one statement, so no concurrent reader ever observes zero or
// two active rules.
func (q *Queries) ActivateTimeRuleExclusive(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE time_rules
		SET is_active = (id = $1), updated_at = now()
		WHERE is_active OR id = $1`, id)
	return tag.RowsAffected(), err
}

func (q *Queries) DeactivateTimeRule(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE time_rules SET is_active = false, updated_at = now() WHERE id = $1`, id)
	return err
}

// DeleteTimeRuleIfInactive refuses, by way of the WHERE clause, to delete the
// rule currently governing live decisions.
func (q *Queries) DeleteTimeRuleIfInactive(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM time_rules WHERE id = $1 AND NOT is_active`, id)
	return tag.RowsAffected(), err
}

type InsertTimeRuleAuditParams struct {
	RuleID    uuid.UUID
	Action    string
	ChangedBy uuid.UUID
	Reason    string
	OldValues map[string]any
	NewValues map[string]any
}

func (q *Queries) InsertTimeRuleAudit(ctx context.Context, arg InsertTimeRuleAuditParams) error {
	oldValues, err := marshalValues(arg.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalValues(arg.NewValues)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO time_rule_audit (id, rule_id, action, changed_by, reason, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.New(), arg.RuleID, arg.Action, arg.ChangedBy, arg.Reason, oldValues, newValues)
	return err
}

func marshalValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}

// Students

const studentColumns = `id, coalesce(lrn, ''), student_code, first_name, last_name, is_active`

func scanStudent(row interface{ Scan(...any) error }) (model.Student, error) {
	var student model.Student
	err := row.Scan(&student.ID, &student.LRN, &student.StudentCode, &student.FirstName, &student.LastName, &student.IsActive)
	return student, err
}

func (q *Queries) StudentByLRN(ctx context.Context, lrn string) (model.Student, error) {
	row := q.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE lrn = $1`, lrn)
	return scanStudent(row)
}

func (q *Queries) StudentByCode(ctx context.Context, code string) (model.Student, error) {
	row := q.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE student_code = $1`, code)
	return scanStudent(row)
}

// Student attendance

const studentAttendanceColumns = `id, student_id, school_year_id, day, check_in_time, check_out_time, status, recorded_by`

func scanStudentAttendance(row interface{ Scan(...any) error }) (model.StudentAttendance, error) {
	var rec model.StudentAttendance
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.SchoolYearID, &rec.Day, &rec.CheckInTime, &rec.CheckOutTime, &rec.Status, &rec.RecordedBy)
	return rec, err
}

func (q *Queries) StudentAttendanceForDay(ctx context.Context, studentID uuid.UUID, day time.Time) (model.StudentAttendance, error) {
	row := q.db.QueryRow(ctx, `SELECT `+studentAttendanceColumns+` FROM student_attendance WHERE student_id = $1 AND day = $2`, studentID, day)
	return scanStudentAttendance(row)
}

type InsertStudentAttendanceParams struct {
	ID           uuid.UUID
	StudentID    uuid.UUID
	SchoolYearID uuid.UUID
	Day          time.Time
	CheckInTime  time.Time
	Status       model.StudentStatus
	RecordedBy   *uuid.UUID
}

func (q *Queries) InsertStudentAttendance(ctx context.Context, arg InsertStudentAttendanceParams) (model.StudentAttendance, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO student_attendance (id, student_id, school_year_id, day, check_in_time, status, recorded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+studentAttendanceColumns,
		arg.ID, arg.StudentID, arg.SchoolYearID, arg.Day, arg.CheckInTime, arg.Status, arg.RecordedBy)
	return scanStudentAttendance(row)
}

func (q *Queries) SetStudentCheckOut(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE student_attendance SET check_out_time = $2, updated_at = now()
		WHERE id = $1 AND check_out_time IS NULL`, id, at)
	return err
}

// Teacher attendance

const teacherAttendanceColumns = `id, teacher_id, school_year_id, day, time_in, time_out, first_student_scan, time_rule_id, attendance_status, late_status`

func scanTeacherAttendance(row interface{ Scan(...any) error }) (model.TeacherAttendance, error) {
	var rec model.TeacherAttendance
	err := row.Scan(&rec.ID, &rec.TeacherID, &rec.SchoolYearID, &rec.Day, &rec.TimeIn, &rec.TimeOut, &rec.FirstStudentScan, &rec.TimeRuleID, &rec.AttendanceStatus, &rec.LateStatus)
	return rec, err
}

func (q *Queries) TeacherAttendanceForDay(ctx context.Context, teacherID uuid.UUID, day time.Time) (model.TeacherAttendance, error) {
	row := q.db.QueryRow(ctx, `SELECT `+teacherAttendanceColumns+` FROM teacher_attendance WHERE teacher_id = $1 AND day = $2`, teacherID, day)
	return scanTeacherAttendance(row)
}

type InsertTeacherAttendanceParams struct {
	ID           uuid.UUID
	TeacherID    uuid.UUID
	SchoolYearID uuid.UUID
	Day          time.Time
	TimeIn       *time.Time
	Status       model.TeacherStatus
}

func (q *Queries) InsertTeacherAttendance(ctx context.Context, arg InsertTeacherAttendanceParams) (model.TeacherAttendance, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO teacher_attendance (id, teacher_id, school_year_id, day, time_in, attendance_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+teacherAttendanceColumns,
		arg.ID, arg.TeacherID, arg.SchoolYearID, arg.Day, arg.TimeIn, arg.Status)
	return scanTeacherAttendance(row)
}

func (q *Queries) UpdateTeacherTimeIn(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE teacher_attendance SET time_in = $2, updated_at = now() WHERE id = $1`, id, at)
	return err
}

func (q *Queries) SetTeacherTimeOut(ctx context.Context, teacherID uuid.UUID, day time.Time, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE teacher_attendance SET time_out = $3, updated_at = now()
		WHERE teacher_id = $1 AND day = $2`, teacherID, day, at)
	return tag.RowsAffected(), err
}

// LockFirstStudentScan freezes the first qualifying scan and the governing
// rule in one conditional statement. The WHERE clause is the idempotent
// guard: first write wins, later attempts touch zero rows.
func (q *Queries) LockFirstStudentScan(ctx context.Context, id uuid.UUID, scanAt time.Time, ruleID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE teacher_attendance
		SET first_student_scan = $2, time_rule_id = $3, updated_at = now()
		WHERE id = $1 AND attendance_status = 'pending' AND first_student_scan IS NULL`,
		id, scanAt, ruleID)
	return tag.RowsAffected(), err
}

func (q *Queries) FinalizeTeacherAttendance(ctx context.Context, id uuid.UUID, status model.TeacherStatus, late model.LateStatus) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE teacher_attendance
		SET attendance_status = $2, late_status = $3, updated_at = now()
		WHERE id = $1 AND attendance_status = 'pending'`,
		id, status, late)
	return tag.RowsAffected(), err
}

// InsertAbsentTeachers creates an absent row for every active teacher who has
// no record at all for the day. Single statement, so a re-run after a partial
// sweep only touches teachers still lacking a row.
func (q *Queries) InsertAbsentTeachers(ctx context.Context, schoolYearID uuid.UUID, day time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO teacher_attendance (id, teacher_id, school_year_id, day, attendance_status, created_at, updated_at)
		SELECT gen_random_uuid(), t.id, $1, $2, 'absent', now(), now()
		FROM teachers t
		WHERE t.is_active
		  AND NOT EXISTS (
			SELECT 1 FROM teacher_attendance ta WHERE ta.teacher_id = t.id AND ta.day = $2
		  )`, schoolYearID, day)
	return tag.RowsAffected(), err
}

func (q *Queries) MarkNoScanForDay(ctx context.Context, day time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE teacher_attendance SET attendance_status = 'no_scan', updated_at = now()
		WHERE day = $1 AND attendance_status = 'pending'`, day)
	return tag.RowsAffected(), err
}

// School years and enrollment

func (q *Queries) ActiveSchoolYear(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT id FROM school_years WHERE is_active LIMIT 1`).Scan(&id)
	return id, err
}

func (q *Queries) ActiveClassesOfStudent(ctx context.Context, studentID uuid.UUID) ([]model.ClassTeacher, error) {
	rows, err := q.db.Query(ctx, `
		SELECT c.id, c.teacher_id
		FROM enrollments e
		JOIN classes c ON c.id = e.class_id
		WHERE e.student_id = $1 AND e.is_active`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var classes []model.ClassTeacher
	for rows.Next() {
		var ct model.ClassTeacher
		if err := rows.Scan(&ct.ClassID, &ct.TeacherID); err != nil {
			return nil, err
		}
		classes = append(classes, ct)
	}
	return classes, rows.Err()
}

func (q *Queries) ClassesTaughtBy(ctx context.Context, teacherID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM classes WHERE teacher_id = $1`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Reporting

type TeacherStatusFilter struct {
	TeacherID    *uuid.UUID
	SchoolYearID *uuid.UUID
	From         *time.Time
	To           *time.Time
	Status       *model.TeacherStatus
}

type StatusCount struct {
	Status model.TeacherStatus
	Total  int64
}

func (q *Queries) CountTeacherStatuses(ctx context.Context, filter TeacherStatusFilter) ([]StatusCount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT attendance_status, count(*)
		FROM teacher_attendance
		WHERE ($1::uuid IS NULL OR teacher_id = $1)
		  AND ($2::uuid IS NULL OR school_year_id = $2)
		  AND ($3::date IS NULL OR day >= $3)
		  AND ($4::date IS NULL OR day <= $4)
		  AND ($5::text IS NULL OR attendance_status = $5)
		GROUP BY attendance_status`,
		filter.TeacherID, filter.SchoolYearID, filter.From, filter.To, filter.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Total); err != nil {
			return nil, err
		}
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}
