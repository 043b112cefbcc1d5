// Package timerule manages the attendance time rules: the single-active-rule
// invariant, the audit trail, and the short-TTL read cache.
package timerule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campanile/attendance/internal/db"
	"campanile/attendance/internal/model"
)

var (
	// ErrNoActiveRule means attendance cannot be judged at all. It is a
	// configuration fault for administrators, not a data problem.
	ErrNoActiveRule = errors.New("no_active_rule")
	ErrRuleNotFound = errors.New("rule_not_found")
)

type Repository interface {
	ActiveTimeRule(ctx context.Context) (model.TimeRule, error)
	TimeRuleByID(ctx context.Context, id uuid.UUID) (model.TimeRule, error)
	ListTimeRules(ctx context.Context) ([]model.TimeRule, error)
	InsertTimeRule(ctx context.Context, arg db.InsertTimeRuleParams) (model.TimeRule, error)
	UpdateTimeRule(ctx context.Context, arg db.UpdateTimeRuleParams) (model.TimeRule, error)
	ActivateTimeRuleExclusive(ctx context.Context, id uuid.UUID) (int64, error)
	DeactivateTimeRule(ctx context.Context, id uuid.UUID) error
	DeleteTimeRuleIfInactive(ctx context.Context, id uuid.UUID) (int64, error)
	InsertTimeRuleAudit(ctx context.Context, arg db.InsertTimeRuleAuditParams) error
}

// TxRunner runs fn against a transactional view of the query layer. The
// concrete query struct satisfies Repository, so mutations compose under one
// transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(*db.Queries) error) error
}

type Store struct {
	repo  Repository
	cache Cache
	tx    TxRunner
}

func NewStore(repo Repository, cache Cache) *Store {
	if cache == nil {
		cache = NopCache{}
	}
	return &Store{repo: repo, cache: cache}
}

// WithTxRunner makes multi-statement mutations atomic. Without one, each
// statement commits on its own.
func (s *Store) WithTxRunner(tx TxRunner) *Store {
	s.tx = tx
	return s
}

func (s *Store) inTx(ctx context.Context, fn func(Repository) error) error {
	if s.tx == nil {
		return fn(s.repo)
	}
	return s.tx.WithTx(ctx, func(q *db.Queries) error { return fn(q) })
}

// Active returns the currently effective rule, serving from the cache when it
// is warm. Read on every scan status display, hence the cache.
func (s *Store) Active(ctx context.Context) (model.TimeRule, error) {
	if rule, ok := s.cache.GetActive(ctx); ok {
		return rule, nil
	}
	rule, err := s.repo.ActiveTimeRule(ctx)
	if errors.Is(err, db.ErrNoRows) {
		return model.TimeRule{}, ErrNoActiveRule
	}
	if err != nil {
		return model.TimeRule{}, err
	}
	s.cache.SetActive(ctx, rule)
	return rule, nil
}

func (s *Store) List(ctx context.Context) ([]model.TimeRule, error) {
	return s.repo.ListTimeRules(ctx)
}

func (s *Store) ByID(ctx context.Context, id uuid.UUID) (model.TimeRule, error) {
	rule, err := s.repo.TimeRuleByID(ctx, id)
	if errors.Is(err, db.ErrNoRows) {
		return model.TimeRule{}, ErrRuleNotFound
	}
	return rule, err
}

type RuleInput struct {
	Name                 string
	TimeIn               string
	TimeOut              string
	LateThresholdMinutes int
	EffectiveDate        *time.Time
	IsActive             bool
}

func (in RuleInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("name required")
	}
	if _, err := model.ClockMinutes(in.TimeIn); err != nil {
		return fmt.Errorf("time_in: %w", err)
	}
	if _, err := model.ClockMinutes(in.TimeOut); err != nil {
		return fmt.Errorf("time_out: %w", err)
	}
	if in.LateThresholdMinutes < 0 {
		return fmt.Errorf("late_threshold_minutes must be non-negative")
	}
	return nil
}

func (s *Store) Create(ctx context.Context, input RuleInput, actorID uuid.UUID) (model.TimeRule, error) {
	if err := input.validate(); err != nil {
		return model.TimeRule{}, err
	}
	var rule model.TimeRule
	err := s.inTx(ctx, func(repo Repository) error {
		var err error
		rule, err = repo.InsertTimeRule(ctx, db.InsertTimeRuleParams{
			ID:                   uuid.New(),
			Name:                 input.Name,
			TimeIn:               input.TimeIn,
			TimeOut:              input.TimeOut,
			LateThresholdMinutes: input.LateThresholdMinutes,
			EffectiveDate:        input.EffectiveDate,
		})
		if err != nil {
			return err
		}
		if input.IsActive {
			if _, err := repo.ActivateTimeRuleExclusive(ctx, rule.ID); err != nil {
				return err
			}
			rule.IsActive = true
		}
		return repo.InsertTimeRuleAudit(ctx, db.InsertTimeRuleAuditParams{
			RuleID:    rule.ID,
			Action:    "create",
			ChangedBy: actorID,
			NewValues: ruleValues(rule),
		})
	})
	if err != nil {
		return model.TimeRule{}, err
	}
	s.cache.Invalidate(ctx)
	return rule, nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, input RuleInput, actorID uuid.UUID, reason string) (model.TimeRule, error) {
	if err := input.validate(); err != nil {
		return model.TimeRule{}, err
	}
	var rule model.TimeRule
	err := s.inTx(ctx, func(repo Repository) error {
		old, err := repo.TimeRuleByID(ctx, id)
		if errors.Is(err, db.ErrNoRows) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		rule, err = repo.UpdateTimeRule(ctx, db.UpdateTimeRuleParams{
			ID:                   id,
			Name:                 input.Name,
			TimeIn:               input.TimeIn,
			TimeOut:              input.TimeOut,
			LateThresholdMinutes: input.LateThresholdMinutes,
			EffectiveDate:        input.EffectiveDate,
		})
		if err != nil {
			return err
		}
		switch {
		case input.IsActive && !rule.IsActive:
			if _, err := repo.ActivateTimeRuleExclusive(ctx, id); err != nil {
				return err
			}
			rule.IsActive = true
		case !input.IsActive && rule.IsActive:
			if err := repo.DeactivateTimeRule(ctx, id); err != nil {
				return err
			}
			rule.IsActive = false
		}
		return repo.InsertTimeRuleAudit(ctx, db.InsertTimeRuleAuditParams{
			RuleID:    id,
			Action:    "update",
			ChangedBy: actorID,
			Reason:    reason,
			OldValues: ruleValues(old),
			NewValues: ruleValues(rule),
		})
	})
	if err != nil {
		return model.TimeRule{}, err
	}
	s.cache.Invalidate(ctx)
	return rule, nil
}

// Activate makes the target rule the single active one. The exclusive update
// is one statement, so there is no window with zero or two active rules.
func (s *Store) Activate(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	err := s.inTx(ctx, func(repo Repository) error {
		if _, err := repo.TimeRuleByID(ctx, id); errors.Is(err, db.ErrNoRows) {
			return ErrRuleNotFound
		} else if err != nil {
			return err
		}
		if _, err := repo.ActivateTimeRuleExclusive(ctx, id); err != nil {
			return err
		}
		return repo.InsertTimeRuleAudit(ctx, db.InsertTimeRuleAuditParams{
			RuleID:    id,
			Action:    "activate",
			ChangedBy: actorID,
		})
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	return nil
}

// Delete removes an inactive rule and reports whether anything was deleted.
// Deleting the active rule is a refused business state, not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (bool, error) {
	var removed bool
	err := s.inTx(ctx, func(repo Repository) error {
		old, err := repo.TimeRuleByID(ctx, id)
		if errors.Is(err, db.ErrNoRows) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		deleted, err := repo.DeleteTimeRuleIfInactive(ctx, id)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return nil
		}
		removed = true
		return repo.InsertTimeRuleAudit(ctx, db.InsertTimeRuleAuditParams{
			RuleID:    id,
			Action:    "delete",
			ChangedBy: actorID,
			OldValues: ruleValues(old),
		})
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func ruleValues(rule model.TimeRule) map[string]any {
	values := map[string]any{
		"name":                   rule.Name,
		"time_in":                rule.TimeIn,
		"time_out":               rule.TimeOut,
		"late_threshold_minutes": rule.LateThresholdMinutes,
		"is_active":              rule.IsActive,
	}
	if rule.EffectiveDate != nil {
		values["effective_date"] = rule.EffectiveDate.Format("2006-01-02")
	}
	return values
}
