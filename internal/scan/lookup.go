package scan

import (
	"context"
	"errors"

	"campanile/attendance/internal/db"
	"campanile/attendance/internal/model"
)

var ErrStudentNotFound = errors.New("student_not_found")

type StudentSource interface {
	StudentByLRN(ctx context.Context, lrn string) (model.Student, error)
	StudentByCode(ctx context.Context, code string) (model.Student, error)
}

type Lookup struct {
	students StudentSource
}

func NewLookup(students StudentSource) *Lookup {
	return &Lookup{students: students}
}

// FindByScanCode resolves an opaque scan code to a student. The LRN is tried
// first; only when it matches nothing does the system-generated code get a
// chance. If one student's LRN collides with another's code, the LRN owner
// wins.
func (l *Lookup) FindByScanCode(ctx context.Context, code string) (model.Student, error) {
	student, err := l.students.StudentByLRN(ctx, code)
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, db.ErrNoRows) {
		return model.Student{}, err
	}
	student, err = l.students.StudentByCode(ctx, code)
	if errors.Is(err, db.ErrNoRows) {
		return model.Student{}, ErrStudentNotFound
	}
	if err != nil {
		return model.Student{}, err
	}
	return student, nil
}
