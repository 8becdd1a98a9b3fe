package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsdesk/internal/metrics"
	"opsdesk/internal/models"
)

// AutomationService is the dispatcher: it takes a fired event through
// candidate loading, cooldown, condition matching, action execution and
// outcome bookkeeping. HandleEvent never surfaces an error to the event
// producer; an automation failure must not fail the business operation
// that raised the event.
type AutomationService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	store    *RuleStore
	executor *ActionExecutor
	stream   *StreamHub
	maxDepth int
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, store *RuleStore, executor *ActionExecutor, maxDepth int) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}
	s := &AutomationService{
		db:       db,
		logger:   logger,
		store:    store,
		executor: executor,
		maxDepth: maxDepth,
	}
	// emit_event re-enters here, synchronously.
	executor.SetDispatcher(s.HandleEvent)
	return s
}

// SetStreamHub wires the optional live outcome feed.
func (s *AutomationService) SetStreamHub(hub *StreamHub) {
	s.stream = hub
}

// HandleEvent evaluates all candidate rules for one event. Evaluation is
// single-threaded and ordered: priority descending, creation order on
// ties, actions in declared order within a rule.
func (s *AutomationService) HandleEvent(ctx context.Context, evt Event) {
	if s.db == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	// Top-level safety net; emit_event has its own guard.
	if evt.Depth >= s.maxDepth {
		s.logger.Warnf("automation: event %s at depth %d dropped, limit is %d", evt.Type, evt.Depth, s.maxDepth)
		return
	}

	rules, err := s.store.ActiveRulesForEvent(ctx, evt.Type)
	if err != nil {
		s.logger.Warnf("automation: load rules for %s failed: %v", evt.Type, err)
		return
	}
	if len(rules) == 0 {
		return
	}

	evalCtx := buildEventContext(evt)

	for i := range rules {
		rule := &rules[i]

		if onCooldown(rule, time.Now()) {
			s.logger.Debugf("automation: rule %d (%s) on cooldown, skipped", rule.ID, rule.Name)
			continue
		}

		conds, err := parseConditions(rule)
		if err != nil {
			s.logger.Warnf("automation: %v", err)
			continue
		}
		if !EvaluateConditions(conds, evalCtx) {
			continue
		}

		s.runRule(ctx, rule, evt)

		if rule.StopAfterMatch {
			s.logger.Debugf("automation: rule %d stops further matching for event %s", rule.ID, evt.ID)
			break
		}
	}
}

// runRule executes a matched rule's actions and records the outcome.
// Unmatched rules never reach here, so every call appends exactly one
// execution log entry.
func (s *AutomationService) runRule(ctx context.Context, rule *models.AutomationRule, evt Event) {
	start := time.Now()

	var results []ActionResult
	actions, err := parseActions(rule)
	if err != nil {
		// Config corruption: record a failed execution rather than
		// silently skipping, so the log shows the rule is broken.
		results = []ActionResult{{ActionType: "parse", Success: false, Error: err.Error()}}
	} else {
		results = s.executor.Run(ctx, actions, evt)
	}

	durationMs := time.Since(start).Milliseconds()
	outcome := classifyOutcome(results)
	errMsg := joinActionErrors(results)

	if err := s.store.RecordExecution(ctx, rule, evt.ID, evt.Type, outcome, results, durationMs, errMsg); err != nil {
		s.logger.Warnf("automation: record execution for rule %d failed: %v", rule.ID, err)
	}
	metrics.IncExecution(outcome)

	s.logger.Infof("automation: rule %d (%s) matched event %s, outcome=%s in %dms", rule.ID, rule.Name, evt.Type, outcome, durationMs)

	if s.stream != nil {
		s.stream.Broadcast(StreamMessage{
			Type: "execution",
			Data: ExecutionNotice{
				RuleID:     rule.ID,
				RuleName:   rule.Name,
				EventID:    evt.ID,
				EventType:  evt.Type,
				Outcome:    outcome,
				DurationMs: durationMs,
				Results:    results,
			},
			Timestamp: time.Now(),
		})
	}
}

// onCooldown reports whether the rule fired too recently to run again.
// The window is anchored at action-phase completion, when
// last_triggered_at was written.
func onCooldown(rule *models.AutomationRule, now time.Time) bool {
	if rule.CooldownSeconds <= 0 || rule.LastTriggeredAt == nil {
		return false
	}
	next := rule.LastTriggeredAt.Add(time.Duration(rule.CooldownSeconds) * time.Second)
	return now.Before(next)
}

// classifyOutcome aggregates per-action results: all good, all bad, or
// somewhere in between.
func classifyOutcome(results []ActionResult) string {
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return models.OutcomeSuccess
	case succeeded == 0:
		return models.OutcomeFailure
	default:
		return models.OutcomePartialFailure
	}
}

func joinActionErrors(results []ActionResult) string {
	var msgs []string
	for _, r := range results {
		if !r.Success && r.Error != "" {
			msgs = append(msgs, r.ActionType+": "+r.Error)
		}
	}
	return strings.Join(msgs, "; ")
}

// ExecutionNotice is the stream payload published after each recorded
// execution.
type ExecutionNotice struct {
	RuleID     uint           `json:"rule_id"`
	RuleName   string         `json:"rule_name"`
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Outcome    string         `json:"outcome"`
	DurationMs int64          `json:"duration_ms"`
	Results    []ActionResult `json:"results"`
}
