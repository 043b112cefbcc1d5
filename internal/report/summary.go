// Package report is the read-only monitoring surface over teacher
// attendance. It aggregates, never mutates.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"campanile/attendance/internal/db"
	"campanile/attendance/internal/model"
)

type Repository interface {
	CountTeacherStatuses(ctx context.Context, filter db.TeacherStatusFilter) ([]db.StatusCount, error)
	ClassesTaughtBy(ctx context.Context, teacherID uuid.UUID) ([]uuid.UUID, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type Filter struct {
	TeacherID    *uuid.UUID
	SchoolYearID *uuid.UUID
	From         *time.Time
	To           *time.Time
	Status       *model.TeacherStatus
}

type Summary struct {
	Counts       map[model.TeacherStatus]int64 `json:"counts"`
	Total        int64                         `json:"total"`
	PresenceRate float64                       `json:"presence_rate"`
	OnTimeRate   float64                       `json:"on_time_rate"`
}

// Summary counts teacher-day rows by status. Empty result sets yield all-zero
// counts and zero rates; rates are guarded against empty denominators.
func (s *Service) Summary(ctx context.Context, filter Filter) (Summary, error) {
	rows, err := s.repo.CountTeacherStatuses(ctx, db.TeacherStatusFilter{
		TeacherID:    filter.TeacherID,
		SchoolYearID: filter.SchoolYearID,
		From:         filter.From,
		To:           filter.To,
		Status:       filter.Status,
	})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Counts: map[model.TeacherStatus]int64{
		model.TeacherStatusPending:   0,
		model.TeacherStatusConfirmed: 0,
		model.TeacherStatusLate:      0,
		model.TeacherStatusAbsent:    0,
		model.TeacherStatusNoScan:    0,
	}}
	for _, row := range rows {
		summary.Counts[row.Status] = row.Total
		summary.Total += row.Total
	}
	if summary.Total > 0 {
		present := summary.Counts[model.TeacherStatusConfirmed] + summary.Counts[model.TeacherStatusLate]
		summary.PresenceRate = float64(present) / float64(summary.Total)
		summary.OnTimeRate = float64(summary.Counts[model.TeacherStatusConfirmed]) / float64(summary.Total)
	}
	return summary, nil
}

type TeacherOverview struct {
	TeacherID uuid.UUID   `json:"teacher_id"`
	Classes   []uuid.UUID `json:"classes"`
	Summary   Summary     `json:"summary"`
}

// Overview is the per-teacher dashboard view: the classes they teach plus
// their attendance summary under the given filter.
func (s *Service) Overview(ctx context.Context, teacherID uuid.UUID, filter Filter) (TeacherOverview, error) {
	filter.TeacherID = &teacherID
	summary, err := s.Summary(ctx, filter)
	if err != nil {
		return TeacherOverview{}, err
	}
	classes, err := s.repo.ClassesTaughtBy(ctx, teacherID)
	if err != nil {
		return TeacherOverview{}, err
	}
	return TeacherOverview{TeacherID: teacherID, Classes: classes, Summary: summary}, nil
}
