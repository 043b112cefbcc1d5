package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campanile/attendance/internal/auth"
	"campanile/attendance/internal/config"
	"campanile/attendance/internal/events"
	"campanile/attendance/internal/model"
	"campanile/attendance/internal/report"
	"campanile/attendance/internal/scan"
	"campanile/attendance/internal/teacherday"
	"campanile/attendance/internal/timerule"
)

type Server struct {
	cfg       config.Config
	rules     *timerule.Store
	recorder  *scan.Recorder
	machine   *teacherday.Machine
	reports   *report.Service
	publisher events.Publisher
	log       *zap.Logger
}

func NewServer(cfg config.Config, rules *timerule.Store, recorder *scan.Recorder, machine *teacherday.Machine, reports *report.Service, publisher events.Publisher, log *zap.Logger) *Server {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Server{
		cfg:       cfg,
		rules:     rules,
		recorder:  recorder,
		machine:   machine,
		reports:   reports,
		publisher: publisher,
		log:       log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.authMiddleware).Post("/scans", s.handleProcessScan)
	r.With(s.authMiddleware).Post("/attendance/manual", s.handleManualAttendance)

	r.With(s.authMiddleware).Post("/teacher-attendance/login", s.handleTeacherLogin)
	r.With(s.authMiddleware).Post("/teacher-attendance/logout", s.handleTeacherLogout)

	r.With(s.authMiddleware).Get("/time-rules", s.handleListTimeRules)
	r.With(s.authMiddleware).Get("/time-rules/active", s.handleActiveTimeRule)
	r.With(s.authMiddleware).Get("/time-rules/{ruleId}", s.handleGetTimeRule)
	r.With(s.authMiddleware).Post("/time-rules", s.handleCreateTimeRule)
	r.With(s.authMiddleware).Put("/time-rules/{ruleId}", s.handleUpdateTimeRule)
	r.With(s.authMiddleware).Post("/time-rules/{ruleId}/activate", s.handleActivateTimeRule)
	r.With(s.authMiddleware).Delete("/time-rules/{ruleId}", s.handleDeleteTimeRule)

	r.With(s.authMiddleware).Get("/reports/summary", s.handleSummary)
	r.With(s.authMiddleware).Get("/reports/teachers/{teacherId}", s.handleTeacherOverview)

	r.With(s.authMiddleware).Post("/sweeps/absent", s.handleAbsentSweep)
	r.With(s.authMiddleware).Post("/sweeps/no-scan", s.handleNoScanSweep)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func requireUserType(claims *auth.Claims, types ...string) bool {
	if claims == nil {
		return false
	}
	for _, t := range types {
		if claims.UserType == t {
			return true
		}
	}
	return false
}

// Scans

type scanRequest struct {
	Code string `json:"code"`
	Mode string `json:"mode"`
}

type scanResponse struct {
	Student studentResponse    `json:"student"`
	Record  attendanceResponse `json:"record"`
	Mode    string             `json:"mode"`
}

func (s *Server) handleProcessScan(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "device", "staff", "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "missing_code")
		return
	}
	mode := model.ScanModeArrival
	switch req.Mode {
	case "", "arrival":
	case "departure":
		mode = model.ScanModeDeparture
	default:
		writeError(w, http.StatusBadRequest, "invalid_mode")
		return
	}

	result, err := s.recorder.ProcessScan(r.Context(), req.Code, mode)
	if err != nil {
		scansTotal.WithLabelValues(string(mode), scanOutcome(err)).Inc()
		s.writeScanError(w, err)
		return
	}
	scansTotal.WithLabelValues(string(mode), "ok").Inc()
	if result.TriggerErr != nil {
		s.log.Warn("phase 2 trigger failed",
			zap.String("student_code", result.Student.StudentCode),
			zap.Error(result.TriggerErr))
	}
	s.dispatch(r.Context(), result.Events)

	writeJSON(w, http.StatusOK, scanResponse{
		Student: mapStudent(result.Student),
		Record:  mapStudentAttendance(result.Record),
		Mode:    string(result.Mode),
	})
}

type manualAttendanceRequest struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
}

func (s *Server) handleManualAttendance(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "staff", "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	actorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	var req manualAttendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}
	status := model.StudentStatus(req.Status)
	switch status {
	case model.StudentStatusPresent, model.StudentStatusLate, model.StudentStatusAbsent:
	default:
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	record, err := s.recorder.RecordManual(r.Context(), studentID, status, actorID)
	if err != nil {
		s.writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapStudentAttendance(record))
}

// Teacher attendance

func (s *Server) handleTeacherLogin(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "teacher") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	teacherID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	record, event, err := s.machine.RecordTimeIn(r.Context(), teacherID)
	if err != nil {
		s.log.Error("teacher login failed", zap.String("teacher_id", teacherID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if record == nil {
		// No active school year; nothing was recorded.
		writeJSON(w, http.StatusOK, map[string]any{"recorded": false})
		return
	}
	if event != nil {
		s.dispatch(r.Context(), []events.Event{*event})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recorded": true,
		"record":   mapTeacherAttendance(*record),
	})
}

func (s *Server) handleTeacherLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "teacher") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	teacherID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	if err := s.machine.RecordTimeOut(r.Context(), teacherID); err != nil {
		if errors.Is(err, teacherday.ErrNoRecord) {
			writeError(w, http.StatusConflict, "no_attendance_record")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Time rules

type timeRuleRequest struct {
	Name                 string  `json:"name"`
	TimeIn               string  `json:"time_in"`
	TimeOut              string  `json:"time_out"`
	LateThresholdMinutes int     `json:"late_threshold_minutes"`
	EffectiveDate        *string `json:"effective_date"`
	IsActive             bool    `json:"is_active"`
}

func (req timeRuleRequest) toInput() (timerule.RuleInput, error) {
	input := timerule.RuleInput{
		Name:                 strings.TrimSpace(req.Name),
		TimeIn:               req.TimeIn,
		TimeOut:              req.TimeOut,
		LateThresholdMinutes: req.LateThresholdMinutes,
		IsActive:             req.IsActive,
	}
	if req.EffectiveDate != nil && *req.EffectiveDate != "" {
		parsed, err := time.Parse("2006-01-02", *req.EffectiveDate)
		if err != nil {
			return timerule.RuleInput{}, err
		}
		input.EffectiveDate = &parsed
	}
	return input, nil
}

func (s *Server) handleListTimeRules(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "staff", "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	rules, err := s.rules.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]timeRuleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, mapTimeRule(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveTimeRule(w http.ResponseWriter, r *http.Request) {
	if claimsFromContext(r.Context()) == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	rule, err := s.rules.Active(r.Context())
	if errors.Is(err, timerule.ErrNoActiveRule) {
		writeError(w, http.StatusNotFound, "no_active_rule")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapTimeRule(rule))
}

func (s *Server) handleGetTimeRule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "staff", "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule_id")
		return
	}
	rule, err := s.rules.ByID(r.Context(), ruleID)
	if errors.Is(err, timerule.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "rule_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapTimeRule(rule))
}

func (s *Server) handleCreateTimeRule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	actorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	var req timeRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	input, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_effective_date")
		return
	}
	rule, err := s.rules.Create(r.Context(), input, actorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule")
		return
	}
	writeJSON(w, http.StatusCreated, mapTimeRule(rule))
}

func (s *Server) handleUpdateTimeRule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	actorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule_id")
		return
	}

	var req struct {
		timeRuleRequest
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	input, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_effective_date")
		return
	}
	rule, err := s.rules.Update(r.Context(), ruleID, input, actorID, req.Reason)
	if errors.Is(err, timerule.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "rule_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule")
		return
	}
	writeJSON(w, http.StatusOK, mapTimeRule(rule))
}

func (s *Server) handleActivateTimeRule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	actorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule_id")
		return
	}

	if err := s.rules.Activate(r.Context(), ruleID, actorID); err != nil {
		if errors.Is(err, timerule.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTimeRule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	actorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule_id")
		return
	}

	deleted, err := s.rules.Delete(r.Context(), ruleID, actorID)
	if errors.Is(err, timerule.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "rule_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusConflict, "rule_active")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reports

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "teacher", "staff", "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	filter, err := parseReportFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter")
		return
	}
	// Teachers only ever see their own rows.
	if claims.UserType == "teacher" {
		teacherID, err := uuid.Parse(claims.UserID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		if filter.TeacherID != nil && *filter.TeacherID != teacherID {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		filter.TeacherID = &teacherID
	}

	summary, err := s.reports.Summary(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTeacherOverview(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "teacher", "staff", "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	teacherID, err := uuid.Parse(chi.URLParam(r, "teacherId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_teacher_id")
		return
	}
	if claims.UserType == "teacher" && claims.UserID != teacherID.String() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	filter, err := parseReportFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter")
		return
	}
	overview, err := s.reports.Overview(r.Context(), teacherID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func parseReportFilter(r *http.Request) (report.Filter, error) {
	var filter report.Filter
	query := r.URL.Query()
	if raw := query.Get("teacherId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return report.Filter{}, err
		}
		filter.TeacherID = &id
	}
	if raw := query.Get("schoolYearId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return report.Filter{}, err
		}
		filter.SchoolYearID = &id
	}
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return report.Filter{}, err
		}
		filter.From = &parsed
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return report.Filter{}, err
		}
		filter.To = &parsed
	}
	if raw := query.Get("status"); raw != "" {
		status := model.TeacherStatus(raw)
		switch status {
		case model.TeacherStatusPending, model.TeacherStatusConfirmed, model.TeacherStatusLate,
			model.TeacherStatusAbsent, model.TeacherStatusNoScan:
			filter.Status = &status
		default:
			return report.Filter{}, errors.New("invalid status")
		}
	}
	return filter, nil
}

// Sweeps (manual triggers; the scheduled entry points live in internal/jobs)

func (s *Server) handleAbsentSweep(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var schoolYearID *uuid.UUID
	if raw := r.URL.Query().Get("schoolYearId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_school_year_id")
			return
		}
		schoolYearID = &id
	}

	created, err := s.machine.MarkAbsentTeachers(r.Context(), schoolYearID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	sweepRowsTotal.WithLabelValues("absent").Add(float64(created))
	writeJSON(w, http.StatusOK, map[string]int64{"created": created})
}

func (s *Server) handleNoScanSweep(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !requireUserType(claims, "admin") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	updated, err := s.machine.MarkNoScanTeachers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	sweepRowsTotal.WithLabelValues("no_scan").Add(float64(updated))
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// Event dispatch

func (s *Server) dispatch(ctx context.Context, batch []events.Event) {
	for _, event := range batch {
		if event.Type == events.TypeFinalized {
			finalizationsTotal.Inc()
		}
		s.publisher.Publish(ctx, event)
	}
}

// Error mapping

func (s *Server) writeScanError(w http.ResponseWriter, err error) {
	var duplicate *scan.DuplicateScanError
	if errors.As(err, &duplicate) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "duplicate_scan",
			"student": mapStudent(duplicate.Student),
			"record":  mapStudentAttendance(duplicate.Existing),
		})
		return
	}
	var checkedOut *scan.AlreadyCheckedOutError
	if errors.As(err, &checkedOut) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "already_checked_out",
			"checked_out_at": checkedOut.CheckedOutAt,
		})
		return
	}
	switch {
	case errors.Is(err, scan.ErrStudentNotFound):
		writeError(w, http.StatusNotFound, "student_not_found")
	case errors.Is(err, scan.ErrNoAttendanceRecord):
		writeError(w, http.StatusConflict, "no_attendance_record")
	case errors.Is(err, scan.ErrNoActiveRule):
		// Configuration fault; a distinct code so operators notice.
		writeError(w, http.StatusPreconditionFailed, "no_active_rule")
	case errors.Is(err, scan.ErrNoActiveSchoolYear):
		writeError(w, http.StatusPreconditionFailed, "no_active_school_year")
	default:
		s.log.Error("scan processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func scanOutcome(err error) string {
	var duplicate *scan.DuplicateScanError
	var checkedOut *scan.AlreadyCheckedOutError
	switch {
	case errors.As(err, &duplicate), errors.As(err, &checkedOut):
		return "duplicate"
	case errors.Is(err, scan.ErrStudentNotFound):
		return "unknown_student"
	case errors.Is(err, scan.ErrNoActiveRule), errors.Is(err, scan.ErrNoActiveSchoolYear):
		return "misconfigured"
	case errors.Is(err, scan.ErrNoAttendanceRecord):
		return "no_record"
	default:
		return "error"
	}
}

// Response mapping

type studentResponse struct {
	ID          string `json:"id"`
	LRN         string `json:"lrn,omitempty"`
	StudentCode string `json:"student_code"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

type attendanceResponse struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	Day          string     `json:"day"`
	CheckInTime  time.Time  `json:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	Status       string     `json:"status"`
}

type teacherAttendanceResponse struct {
	ID               string     `json:"id"`
	TeacherID        string     `json:"teacher_id"`
	Day              string     `json:"day"`
	TimeIn           *time.Time `json:"time_in,omitempty"`
	TimeOut          *time.Time `json:"time_out,omitempty"`
	FirstStudentScan *time.Time `json:"first_student_scan,omitempty"`
	TimeRuleID       string     `json:"time_rule_id,omitempty"`
	AttendanceStatus string     `json:"attendance_status"`
	LateStatus       string     `json:"late_status,omitempty"`
}

type timeRuleResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	TimeIn               string `json:"time_in"`
	TimeOut              string `json:"time_out"`
	LateThresholdMinutes int    `json:"late_threshold_minutes"`
	EffectiveDate        string `json:"effective_date,omitempty"`
	IsActive             bool   `json:"is_active"`
}

func mapStudent(student model.Student) studentResponse {
	return studentResponse{
		ID:          student.ID.String(),
		LRN:         student.LRN,
		StudentCode: student.StudentCode,
		FirstName:   student.FirstName,
		LastName:    student.LastName,
	}
}

func mapStudentAttendance(record model.StudentAttendance) attendanceResponse {
	return attendanceResponse{
		ID:           record.ID.String(),
		StudentID:    record.StudentID.String(),
		Day:          record.Day.Format("2006-01-02"),
		CheckInTime:  record.CheckInTime,
		CheckOutTime: record.CheckOutTime,
		Status:       string(record.Status),
	}
}

func mapTeacherAttendance(record model.TeacherAttendance) teacherAttendanceResponse {
	resp := teacherAttendanceResponse{
		ID:               record.ID.String(),
		TeacherID:        record.TeacherID.String(),
		Day:              record.Day.Format("2006-01-02"),
		TimeIn:           record.TimeIn,
		TimeOut:          record.TimeOut,
		FirstStudentScan: record.FirstStudentScan,
		AttendanceStatus: string(record.AttendanceStatus),
	}
	if record.TimeRuleID != nil {
		resp.TimeRuleID = record.TimeRuleID.String()
	}
	if record.LateStatus != nil {
		resp.LateStatus = string(*record.LateStatus)
	}
	return resp
}

func mapTimeRule(rule model.TimeRule) timeRuleResponse {
	resp := timeRuleResponse{
		ID:                   rule.ID.String(),
		Name:                 rule.Name,
		TimeIn:               rule.TimeIn,
		TimeOut:              rule.TimeOut,
		LateThresholdMinutes: rule.LateThresholdMinutes,
		IsActive:             rule.IsActive,
	}
	if rule.EffectiveDate != nil {
		resp.EffectiveDate = rule.EffectiveDate.Format("2006-01-02")
	}
	return resp
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
