package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsdesk/internal/models"
)

var conditionOps = map[string]bool{
	"eq": true, "neq": true,
	"in": true, "not_in": true,
	"contains": true,
	"gt":       true, "lt": true, "gte": true, "lte": true,
	"exists": true, "not_exists": true,
}

// RuleStore owns rule persistence, the dispatch hot-path query and the
// append-only execution log.
type RuleStore struct {
	db     *gorm.DB
	logger *logrus.Logger
	// actionTypes validates action tags at create/update time. Wired to
	// the executor's handler table so the two can never drift.
	actionTypes interface{ KnownActionType(string) bool }
}

func NewRuleStore(db *gorm.DB, logger *logrus.Logger) *RuleStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleStore{db: db, logger: logger}
}

// SetActionValidator injects the action-type check used by rule
// validation. Without it only structural validation runs.
func (s *RuleStore) SetActionValidator(v interface{ KnownActionType(string) bool }) {
	s.actionTypes = v
}

// RuleCreateRequest 创建规则的请求
type RuleCreateRequest struct {
	Name            string      `json:"name" binding:"required"`
	EventType       string      `json:"event_type" binding:"required"`
	Conditions      []Condition `json:"conditions"`
	Actions         []Action    `json:"actions" binding:"required"`
	Priority        int         `json:"priority"`
	StopAfterMatch  bool        `json:"stop_after_match"`
	CooldownSeconds int         `json:"cooldown_seconds"`
	Status          *string     `json:"status"`
}

// RuleUpdateRequest updates only the fields that are set.
type RuleUpdateRequest struct {
	Name            *string      `json:"name"`
	EventType       *string      `json:"event_type"`
	Conditions      *[]Condition `json:"conditions"`
	Actions         *[]Action    `json:"actions"`
	Priority        *int         `json:"priority"`
	StopAfterMatch  *bool        `json:"stop_after_match"`
	CooldownSeconds *int         `json:"cooldown_seconds"`
	Status          *string      `json:"status"`
}

// RuleListRequest 规则列表请求
type RuleListRequest struct {
	Page      int    `form:"page,default=1"`
	PageSize  int    `form:"page_size,default=20"`
	Status    string `form:"status"`
	EventType string `form:"event_type"`
}

// ActiveRulesForEvent is the dispatch hot path: active, non-deleted
// rules for one event type, highest priority first, creation order as
// the stable tie-breaker.
func (s *RuleStore) ActiveRulesForEvent(ctx context.Context, eventType string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("event_type = ? AND status = ? AND is_active = ?", eventType, models.RuleStatusActive, true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateRule validates and persists a new rule.
func (s *RuleStore) CreateRule(ctx context.Context, req *RuleCreateRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if req.Name == "" || req.EventType == "" {
		return nil, fmt.Errorf("name and event_type required")
	}
	if err := s.validateConditions(req.Conditions); err != nil {
		return nil, err
	}
	if err := s.validateActions(req.Actions); err != nil {
		return nil, err
	}
	if req.CooldownSeconds < 0 {
		return nil, fmt.Errorf("cooldown_seconds must be non-negative")
	}
	status := models.RuleStatusActive
	if req.Status != nil {
		if *req.Status != models.RuleStatusActive && *req.Status != models.RuleStatusPaused {
			return nil, fmt.Errorf("status must be active or paused at creation")
		}
		status = *req.Status
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}

	rule := &models.AutomationRule{
		Name:            req.Name,
		EventType:       req.EventType,
		Conditions:      string(condJSON),
		Actions:         string(actJSON),
		Status:          status,
		IsActive:        true,
		Priority:        req.Priority,
		StopAfterMatch:  req.StopAfterMatch,
		CooldownSeconds: req.CooldownSeconds,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRule returns one rule by id, archived ones included.
func (s *RuleStore) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, fmt.Errorf("rule not found: %w", err)
	}
	return &rule, nil
}

// ListRules pages through rules, optionally filtered by status and
// event type.
func (s *RuleStore) ListRules(ctx context.Context, req *RuleListRequest) ([]models.AutomationRule, int64, error) {
	if req == nil {
		req = &RuleListRequest{}
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.EventType != "" {
		query = query.Where("event_type = ?", req.EventType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rules []models.AutomationRule
	err := query.Order("priority DESC, id ASC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&rules).Error
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// UpdateRule applies a partial update. Archived rules are immutable.
func (s *RuleStore) UpdateRule(ctx context.Context, id uint, req *RuleUpdateRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Status == models.RuleStatusArchived {
		return nil, fmt.Errorf("archived rule cannot be modified")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.EventType != nil {
		updates["event_type"] = *req.EventType
	}
	if req.Conditions != nil {
		if err := s.validateConditions(*req.Conditions); err != nil {
			return nil, err
		}
		condJSON, err := json.Marshal(*req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("invalid conditions: %w", err)
		}
		updates["conditions"] = string(condJSON)
	}
	if req.Actions != nil {
		if err := s.validateActions(*req.Actions); err != nil {
			return nil, err
		}
		actJSON, err := json.Marshal(*req.Actions)
		if err != nil {
			return nil, fmt.Errorf("invalid actions: %w", err)
		}
		updates["actions"] = string(actJSON)
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.StopAfterMatch != nil {
		updates["stop_after_match"] = *req.StopAfterMatch
	}
	if req.CooldownSeconds != nil {
		if *req.CooldownSeconds < 0 {
			return nil, fmt.Errorf("cooldown_seconds must be non-negative")
		}
		updates["cooldown_seconds"] = *req.CooldownSeconds
	}
	if req.Status != nil {
		switch *req.Status {
		case models.RuleStatusActive, models.RuleStatusPaused:
			updates["status"] = *req.Status
		case models.RuleStatusArchived:
			// Archiving through update behaves like delete: both flags flip.
			updates["status"] = models.RuleStatusArchived
			updates["is_active"] = false
		default:
			return nil, fmt.Errorf("unknown status %q", *req.Status)
		}
	}
	if len(updates) == 0 {
		return rule, nil
	}

	if err := s.db.WithContext(ctx).Model(rule).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetRule(ctx, id)
}

// DeleteRule soft-deletes: the rule stays on disk because execution logs
// reference it.
func (s *RuleStore) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active": false,
			"status":    models.RuleStatusArchived,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// RecordExecution appends the log entry and bumps the rule counters in
// one transaction. The counter update is a single SQL expression so
// concurrent workers firing the same rule cannot lose increments.
func (s *RuleStore) RecordExecution(ctx context.Context, rule *models.AutomationRule, eventID, eventType, outcome string, results []ActionResult, durationMs int64, errMsg string) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal action results: %w", err)
	}
	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := &models.AutomationExecutionLog{
			RuleID:        rule.ID,
			EventID:       eventID,
			EventType:     eventType,
			Outcome:       outcome,
			ActionResults: string(resultsJSON),
			DurationMs:    durationMs,
			Error:         errMsg,
			CreatedAt:     now,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		return tx.Model(&models.AutomationRule{}).
			Where("id = ?", rule.ID).
			UpdateColumns(map[string]interface{}{
				"execution_count":   gorm.Expr("execution_count + 1"),
				"last_triggered_at": now,
			}).Error
	})
	if err != nil {
		return err
	}
	// Keep the caller's copy coherent with what was just written.
	rule.ExecutionCount++
	rule.LastTriggeredAt = &now
	return nil
}

// ListLogs returns the most recent execution logs for one rule.
func (s *RuleStore) ListLogs(ctx context.Context, ruleID uint, limit int) ([]models.AutomationExecutionLog, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var logs []models.AutomationExecutionLog
	err := s.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// CountRulesByStatus returns rule counts keyed by status.
func (s *RuleStore) CountRulesByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *RuleStore) validateConditions(conds []Condition) error {
	for _, c := range conds {
		if c.Field == "" {
			return fmt.Errorf("condition field required")
		}
		if !conditionOps[c.Op] {
			return fmt.Errorf("unknown condition op %q", c.Op)
		}
	}
	return nil
}

func (s *RuleStore) validateActions(actions []Action) error {
	if len(actions) == 0 {
		return fmt.Errorf("at least one action required")
	}
	for _, a := range actions {
		if a.Type == "" {
			return fmt.Errorf("action type required")
		}
		if s.actionTypes != nil && !s.actionTypes.KnownActionType(a.Type) {
			return fmt.Errorf("unknown action type %q", a.Type)
		}
	}
	return nil
}

// parseConditions decodes the stored condition list. Empty means
// match-all.
func parseConditions(rule *models.AutomationRule) ([]Condition, error) {
	if rule.Conditions == "" {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal([]byte(rule.Conditions), &conds); err != nil {
		return nil, fmt.Errorf("invalid conditions for rule %d: %w", rule.ID, err)
	}
	return conds, nil
}

func parseActions(rule *models.AutomationRule) ([]Action, error) {
	if rule.Actions == "" {
		return nil, nil
	}
	var actions []Action
	if err := json.Unmarshal([]byte(rule.Actions), &actions); err != nil {
		return nil, fmt.Errorf("invalid actions for rule %d: %w", rule.ID, err)
	}
	return actions, nil
}
