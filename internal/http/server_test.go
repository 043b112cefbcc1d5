package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"campanile/attendance/internal/config"
	"campanile/attendance/internal/db"
	"campanile/attendance/internal/events"
	"campanile/attendance/internal/model"
	"campanile/attendance/internal/report"
	"campanile/attendance/internal/scan"
	"campanile/attendance/internal/teacherday"
	"campanile/attendance/internal/timerule"
)

const testSecret = "test-secret"

// fakeBackend is one in-memory stand-in for the whole query layer. Like the
// real query struct, it satisfies every package's consumer interface at once.
type fakeBackend struct {
	rules             map[uuid.UUID]model.TimeRule
	students          map[uuid.UUID]model.Student
	studentAttendance map[uuid.UUID]model.StudentAttendance
	teacherAttendance map[uuid.UUID]model.TeacherAttendance
	classes           map[uuid.UUID][]model.ClassTeacher
	schoolYearID      uuid.UUID
	audits            int
	statusCounts      []db.StatusCount
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rules:             map[uuid.UUID]model.TimeRule{},
		students:          map[uuid.UUID]model.Student{},
		studentAttendance: map[uuid.UUID]model.StudentAttendance{},
		teacherAttendance: map[uuid.UUID]model.TeacherAttendance{},
		classes:           map[uuid.UUID][]model.ClassTeacher{},
		schoolYearID:      uuid.New(),
	}
}

func (f *fakeBackend) ActiveTimeRule(context.Context) (model.TimeRule, error) {
	for _, rule := range f.rules {
		if rule.IsActive {
			return rule, nil
		}
	}
	return model.TimeRule{}, db.ErrNoRows
}

func (f *fakeBackend) TimeRuleByID(_ context.Context, id uuid.UUID) (model.TimeRule, error) {
	rule, ok := f.rules[id]
	if !ok {
		return model.TimeRule{}, db.ErrNoRows
	}
	return rule, nil
}

func (f *fakeBackend) ListTimeRules(context.Context) ([]model.TimeRule, error) {
	out := make([]model.TimeRule, 0, len(f.rules))
	for _, rule := range f.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (f *fakeBackend) InsertTimeRule(_ context.Context, arg db.InsertTimeRuleParams) (model.TimeRule, error) {
	rule := model.TimeRule{
		ID:                   arg.ID,
		Name:                 arg.Name,
		TimeIn:               arg.TimeIn,
		TimeOut:              arg.TimeOut,
		LateThresholdMinutes: arg.LateThresholdMinutes,
		EffectiveDate:        arg.EffectiveDate,
	}
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *fakeBackend) UpdateTimeRule(_ context.Context, arg db.UpdateTimeRuleParams) (model.TimeRule, error) {
	rule, ok := f.rules[arg.ID]
	if !ok {
		return model.TimeRule{}, db.ErrNoRows
	}
	rule.Name = arg.Name
	rule.TimeIn = arg.TimeIn
	rule.TimeOut = arg.TimeOut
	rule.LateThresholdMinutes = arg.LateThresholdMinutes
	rule.EffectiveDate = arg.EffectiveDate
	f.rules[arg.ID] = rule
	return rule, nil
}

func (f *fakeBackend) ActivateTimeRuleExclusive(_ context.Context, id uuid.UUID) (int64, error) {
	var touched int64
	for key, rule := range f.rules {
		active := key == id
		if rule.IsActive != active {
			touched++
		}
		rule.IsActive = active
		f.rules[key] = rule
	}
	return touched, nil
}

func (f *fakeBackend) DeactivateTimeRule(_ context.Context, id uuid.UUID) error {
	rule, ok := f.rules[id]
	if !ok {
		return db.ErrNoRows
	}
	rule.IsActive = false
	f.rules[id] = rule
	return nil
}

func (f *fakeBackend) DeleteTimeRuleIfInactive(_ context.Context, id uuid.UUID) (int64, error) {
	rule, ok := f.rules[id]
	if !ok || rule.IsActive {
		return 0, nil
	}
	delete(f.rules, id)
	return 1, nil
}

func (f *fakeBackend) InsertTimeRuleAudit(context.Context, db.InsertTimeRuleAuditParams) error {
	f.audits++
	return nil
}

func (f *fakeBackend) StudentByLRN(_ context.Context, lrn string) (model.Student, error) {
	for _, student := range f.students {
		if student.LRN == lrn && student.LRN != "" {
			return student, nil
		}
	}
	return model.Student{}, db.ErrNoRows
}

func (f *fakeBackend) StudentByCode(_ context.Context, code string) (model.Student, error) {
	for _, student := range f.students {
		if student.StudentCode == code {
			return student, nil
		}
	}
	return model.Student{}, db.ErrNoRows
}

func (f *fakeBackend) StudentAttendanceForDay(_ context.Context, studentID uuid.UUID, day time.Time) (model.StudentAttendance, error) {
	for _, record := range f.studentAttendance {
		if record.StudentID == studentID && record.Day.Equal(day) {
			return record, nil
		}
	}
	return model.StudentAttendance{}, db.ErrNoRows
}

func (f *fakeBackend) InsertStudentAttendance(_ context.Context, arg db.InsertStudentAttendanceParams) (model.StudentAttendance, error) {
	record := model.StudentAttendance{
		ID:           arg.ID,
		StudentID:    arg.StudentID,
		SchoolYearID: arg.SchoolYearID,
		Day:          arg.Day,
		CheckInTime:  arg.CheckInTime,
		Status:       arg.Status,
		RecordedBy:   arg.RecordedBy,
	}
	f.studentAttendance[record.ID] = record
	return record, nil
}

func (f *fakeBackend) SetStudentCheckOut(_ context.Context, id uuid.UUID, at time.Time) error {
	record, ok := f.studentAttendance[id]
	if !ok {
		return db.ErrNoRows
	}
	if record.CheckOutTime == nil {
		record.CheckOutTime = &at
		f.studentAttendance[id] = record
	}
	return nil
}

func (f *fakeBackend) TeacherAttendanceForDay(_ context.Context, teacherID uuid.UUID, day time.Time) (model.TeacherAttendance, error) {
	for _, record := range f.teacherAttendance {
		if record.TeacherID == teacherID && record.Day.Equal(day) {
			return record, nil
		}
	}
	return model.TeacherAttendance{}, db.ErrNoRows
}

func (f *fakeBackend) InsertTeacherAttendance(_ context.Context, arg db.InsertTeacherAttendanceParams) (model.TeacherAttendance, error) {
	record := model.TeacherAttendance{
		ID:               arg.ID,
		TeacherID:        arg.TeacherID,
		SchoolYearID:     arg.SchoolYearID,
		Day:              arg.Day,
		TimeIn:           arg.TimeIn,
		AttendanceStatus: arg.Status,
	}
	f.teacherAttendance[record.ID] = record
	return record, nil
}

func (f *fakeBackend) UpdateTeacherTimeIn(_ context.Context, id uuid.UUID, at time.Time) error {
	record, ok := f.teacherAttendance[id]
	if !ok {
		return db.ErrNoRows
	}
	record.TimeIn = &at
	f.teacherAttendance[id] = record
	return nil
}

func (f *fakeBackend) SetTeacherTimeOut(_ context.Context, teacherID uuid.UUID, day time.Time, at time.Time) (int64, error) {
	for id, record := range f.teacherAttendance {
		if record.TeacherID == teacherID && record.Day.Equal(day) {
			record.TimeOut = &at
			f.teacherAttendance[id] = record
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeBackend) LockFirstStudentScan(_ context.Context, id uuid.UUID, scanAt time.Time, ruleID uuid.UUID) (int64, error) {
	record, ok := f.teacherAttendance[id]
	if !ok || record.AttendanceStatus != model.TeacherStatusPending || record.FirstStudentScan != nil {
		return 0, nil
	}
	record.FirstStudentScan = &scanAt
	record.TimeRuleID = &ruleID
	f.teacherAttendance[id] = record
	return 1, nil
}

func (f *fakeBackend) FinalizeTeacherAttendance(_ context.Context, id uuid.UUID, status model.TeacherStatus, late model.LateStatus) (int64, error) {
	record, ok := f.teacherAttendance[id]
	if !ok || record.AttendanceStatus != model.TeacherStatusPending {
		return 0, nil
	}
	record.AttendanceStatus = status
	record.LateStatus = &late
	f.teacherAttendance[id] = record
	return 1, nil
}

func (f *fakeBackend) InsertAbsentTeachers(context.Context, uuid.UUID, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeBackend) MarkNoScanForDay(_ context.Context, day time.Time) (int64, error) {
	var updated int64
	for id, record := range f.teacherAttendance {
		if record.Day.Equal(day) && record.AttendanceStatus == model.TeacherStatusPending {
			record.AttendanceStatus = model.TeacherStatusNoScan
			f.teacherAttendance[id] = record
			updated++
		}
	}
	return updated, nil
}

func (f *fakeBackend) ActiveSchoolYear(context.Context) (uuid.UUID, error) {
	if f.schoolYearID == uuid.Nil {
		return uuid.Nil, db.ErrNoRows
	}
	return f.schoolYearID, nil
}

func (f *fakeBackend) ActiveClassesOfStudent(_ context.Context, studentID uuid.UUID) ([]model.ClassTeacher, error) {
	return f.classes[studentID], nil
}

func (f *fakeBackend) CountTeacherStatuses(context.Context, db.TeacherStatusFilter) ([]db.StatusCount, error) {
	return f.statusCounts, nil
}

func (f *fakeBackend) ClassesTaughtBy(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type capturePublisher struct {
	published []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) {
	p.published = append(p.published, event)
}

type fixture struct {
	server    *Server
	handler   http.Handler
	backend   *fakeBackend
	publisher *capturePublisher
}

func newFixture(t *testing.T, clock string) *fixture {
	t.Helper()
	at, err := time.Parse("2006-01-02 15:04", clock)
	if err != nil {
		t.Fatalf("bad clock: %v", err)
	}
	now := func() time.Time { return at }

	backend := newFakeBackend()
	publisher := &capturePublisher{}
	cfg := config.Config{JWTSecret: testSecret}

	rules := timerule.NewStore(backend, nil)
	machine := teacherday.NewMachine(backend, backend, backend).WithClock(now)
	recorder := scan.NewRecorder(scan.NewLookup(backend), backend, backend, backend, backend, machine).WithClock(now)
	reports := report.NewService(backend)

	server := NewServer(cfg, rules, recorder, machine, reports, publisher, zap.NewNop())
	return &fixture{server: server, handler: server.Router(), backend: backend, publisher: publisher}
}

func (f *fixture) seedRule(t *testing.T) model.TimeRule {
	t.Helper()
	rule := model.TimeRule{
		ID:                   uuid.New(),
		Name:                 "morning",
		TimeIn:               "07:00",
		TimeOut:              "16:00",
		LateThresholdMinutes: 30,
		IsActive:             true,
	}
	f.backend.rules[rule.ID] = rule
	return rule
}

func (f *fixture) seedStudent(t *testing.T) model.Student {
	t.Helper()
	student := model.Student{
		ID:          uuid.New(),
		LRN:         "108881230047",
		StudentCode: "STU-2026-0047",
		FirstName:   "Maria",
		LastName:    "Santos",
		IsActive:    true,
	}
	f.backend.students[student.ID] = student
	return student
}

func signToken(t *testing.T, userID, userType string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   userID,
		"user_type": userType,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")

	rec := f.do(t, http.MethodPost, "/scans", "", map[string]string{"code": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/scans", "garbage", map[string]string{"code": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d, want 401", rec.Code)
	}
}

func TestForbiddenUserType(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")
	token := signToken(t, uuid.New().String(), "teacher")

	// Teachers cannot manage time rules.
	rec := f.do(t, http.MethodPost, "/time-rules", token, map[string]any{"name": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
}

func TestScanEndpoint(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")
	f.seedRule(t)
	student := f.seedStudent(t)
	token := signToken(t, uuid.New().String(), "device")

	rec := f.do(t, http.MethodPost, "/scans", token, map[string]string{"code": student.LRN})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp scanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Record.Status != "present" {
		t.Fatalf("status = %s, want present", resp.Record.Status)
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0].Type != events.TypeScan {
		t.Fatalf("expected one published scan event, got %+v", f.publisher.published)
	}

	// Second scan conflicts and carries the existing record.
	rec = f.do(t, http.MethodPost, "/scans", token, map[string]string{"code": student.LRN})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: status %d, want 409", rec.Code)
	}
	var conflict struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("decode conflict: %v", err)
	}
	if conflict.Error != "duplicate_scan" {
		t.Fatalf("error = %s, want duplicate_scan", conflict.Error)
	}
}

func TestScanUnknownStudent(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")
	f.seedRule(t)
	token := signToken(t, uuid.New().String(), "device")

	rec := f.do(t, http.MethodPost, "/scans", token, map[string]string{"code": "nobody"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestScanWithoutActiveRule(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")
	student := f.seedStudent(t)
	token := signToken(t, uuid.New().String(), "device")

	rec := f.do(t, http.MethodPost, "/scans", token, map[string]string{"code": student.LRN})
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status %d, want 412", rec.Code)
	}
}

func TestScanDrivesTeacherFinalization(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")
	rule := f.seedRule(t)
	student := f.seedStudent(t)
	teacherID := uuid.New()
	f.backend.classes[student.ID] = []model.ClassTeacher{{ClassID: uuid.New(), TeacherID: teacherID}}

	teacherToken := signToken(t, teacherID.String(), "teacher")
	rec := f.do(t, http.MethodPost, "/teacher-attendance/login", teacherToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d: %s", rec.Code, rec.Body.String())
	}

	deviceToken := signToken(t, uuid.New().String(), "device")
	rec = f.do(t, http.MethodPost, "/scans", deviceToken, map[string]string{"code": student.LRN})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: status %d: %s", rec.Code, rec.Body.String())
	}

	record, err := f.backend.TeacherAttendanceForDay(context.Background(), teacherID, model.Day(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("fetch teacher row: %v", err)
	}
	if record.AttendanceStatus != model.TeacherStatusConfirmed {
		t.Fatalf("status = %s, want confirmed", record.AttendanceStatus)
	}
	if record.TimeRuleID == nil || *record.TimeRuleID != rule.ID {
		t.Fatalf("rule not locked")
	}

	// login + scan + finalized events all reach the publisher.
	var types []events.Type
	for _, event := range f.publisher.published {
		types = append(types, event.Type)
	}
	want := map[events.Type]bool{events.TypeLogin: false, events.TypeScan: false, events.TypeFinalized: false}
	for _, tp := range types {
		want[tp] = true
	}
	for tp, seen := range want {
		if !seen {
			t.Fatalf("event %s never published (got %v)", tp, types)
		}
	}
}

func TestTeacherLogout(t *testing.T) {
	f := newFixture(t, "2026-03-02 16:05")
	teacherID := uuid.New()
	token := signToken(t, teacherID.String(), "teacher")

	rec := f.do(t, http.MethodPost, "/teacher-attendance/logout", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("logout without login: status %d, want 409", rec.Code)
	}

	if rec := f.do(t, http.MethodPost, "/teacher-attendance/login", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/teacher-attendance/logout", token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d, want 204", rec.Code)
	}
}

func TestTimeRuleLifecycle(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")
	admin := signToken(t, uuid.New().String(), "admin")

	rec := f.do(t, http.MethodPost, "/time-rules", admin, map[string]any{
		"name":                   "morning",
		"time_in":                "07:00",
		"time_out":               "16:00",
		"late_threshold_minutes": 30,
		"is_active":              true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	var created timeRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !created.IsActive {
		t.Fatalf("created rule should be active")
	}

	rec = f.do(t, http.MethodGet, "/time-rules/"+created.ID, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by id: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/time-rules/"+uuid.New().String(), admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get unknown: status %d, want 404", rec.Code)
	}

	// Active rule cannot be deleted.
	rec = f.do(t, http.MethodDelete, "/time-rules/"+created.ID, admin, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete active: status %d, want 409", rec.Code)
	}

	// A second active rule displaces the first.
	rec = f.do(t, http.MethodPost, "/time-rules", admin, map[string]any{
		"name":                   "exam week",
		"time_in":                "08:00",
		"time_out":               "12:00",
		"late_threshold_minutes": 10,
		"is_active":              true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create second: status %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/time-rules/active", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("active: status %d", rec.Code)
	}
	var active timeRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &active); err != nil {
		t.Fatalf("decode active: %v", err)
	}
	if active.Name != "exam week" {
		t.Fatalf("active rule = %s, want exam week", active.Name)
	}

	// The displaced rule is now deletable.
	rec = f.do(t, http.MethodDelete, "/time-rules/"+created.ID, admin, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete inactive: status %d, want 204", rec.Code)
	}
}

func TestSummaryTeacherScoping(t *testing.T) {
	f := newFixture(t, "2026-03-02 07:15")
	f.backend.statusCounts = []db.StatusCount{{Status: model.TeacherStatusConfirmed, Total: 3}}
	teacherID := uuid.New()
	token := signToken(t, teacherID.String(), "teacher")

	// A teacher asking about someone else is refused.
	rec := f.do(t, http.MethodGet, "/reports/summary?teacherId="+uuid.New().String(), token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-teacher summary: status %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/reports/summary", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own summary: status %d", rec.Code)
	}
	var summary report.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Total != 3 {
		t.Fatalf("total = %d, want 3", summary.Total)
	}
}

func TestManualAttendance(t *testing.T) {
	f := newFixture(t, "2026-03-02 09:00")
	f.seedRule(t)
	student := f.seedStudent(t)
	staff := signToken(t, uuid.New().String(), "staff")

	rec := f.do(t, http.MethodPost, "/attendance/manual", staff, map[string]string{
		"student_id": student.ID.String(),
		"status":     "absent",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("manual: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp attendanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "absent" {
		t.Fatalf("status = %s, want absent", resp.Status)
	}

	rec = f.do(t, http.MethodPost, "/attendance/manual", staff, map[string]string{
		"student_id": student.ID.String(),
		"status":     "invalid",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: status %d, want 400", rec.Code)
	}
}
