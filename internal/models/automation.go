package models

import "time"

// Rule lifecycle states. Archived is terminal: soft delete sets both
// status=archived and is_active=false.
const (
	RuleStatusActive   = "active"
	RuleStatusPaused   = "paused"
	RuleStatusArchived = "archived"
)

// Execution outcomes recorded per matched rule.
const (
	OutcomeSuccess        = "success"
	OutcomePartialFailure = "partial_failure"
	OutcomeFailure        = "failure"
	OutcomeSkipped        = "skipped"
)

// AutomationRule 自动化规则定义
// The composite index backs the dispatch hot path: active rules for an
// event type, ordered by priority.
type AutomationRule struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"not null" json:"name"`
	EventType       string     `gorm:"not null;index:idx_rules_dispatch,priority:1" json:"event_type"`
	Conditions      string     `gorm:"type:text" json:"conditions"` // JSON: [{field,op,value}]
	Actions         string     `gorm:"type:text" json:"actions"`    // JSON: [{type,params}]
	Status          string     `gorm:"default:'active';index:idx_rules_dispatch,priority:2" json:"status"` // active, paused, archived
	IsActive        bool       `gorm:"default:true;index:idx_rules_dispatch,priority:3" json:"is_active"`
	Priority        int        `gorm:"default:0;index:idx_rules_dispatch,priority:4" json:"priority"` // higher runs first
	StopAfterMatch  bool       `gorm:"default:false" json:"stop_after_match"`
	CooldownSeconds int        `gorm:"default:0" json:"cooldown_seconds"`
	ExecutionCount  int64      `gorm:"default:0" json:"execution_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"` // set after the action phase, not at match time
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AutomationExecutionLog 执行记录用于审计
// Append-only: one row per rule that matched and ran its actions.
type AutomationExecutionLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RuleID        uint      `gorm:"index" json:"rule_id"`
	EventID       string    `gorm:"index" json:"event_id"`
	EventType     string    `gorm:"index" json:"event_type"`
	Outcome       string    `gorm:"index" json:"outcome"` // success, partial_failure, failure, skipped
	ActionResults string    `gorm:"type:text" json:"action_results"` // JSON: [{action_type,success,error}]
	DurationMs    int64     `json:"duration_ms"`
	Error         string    `gorm:"type:text" json:"error"`
	CreatedAt     time.Time `json:"created_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}
