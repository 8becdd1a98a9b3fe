package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"opsdesk/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Person{},
		&models.Ticket{},
		&models.TicketTag{},
		&models.Project{},
		&models.WorkOrder{},
		&models.Conversation{},
		&models.Notification{},
		&models.AutomationRule{},
		&models.AutomationExecutionLog{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// newEngine wires a complete engine against an in-memory database.
func newEngine(t *testing.T) (*gorm.DB, *RuleStore, *ActionExecutor, *AutomationService) {
	t.Helper()
	db := newTestDB(t)
	logger := logrus.New()
	resolvers := NewResolverRegistry()
	notifications := NewNotificationService(db, logger)
	conversations := NewConversationService(db, logger)
	executor := NewActionExecutor(db, logger, resolvers, notifications, conversations, 3, "in_app")
	store := NewRuleStore(db, logger)
	store.SetActionValidator(executor)
	svc := NewAutomationService(db, logger, store, executor, 3)
	return db, store, executor, svc
}

func createTicket(t *testing.T, db *gorm.DB) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{Title: "printer down", SubscriberID: 1, Status: "open", Priority: "normal"}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func addTagRule(t *testing.T, store *RuleStore, name, eventType string, mutate func(*RuleCreateRequest)) *models.AutomationRule {
	t.Helper()
	req := &RuleCreateRequest{
		Name:      name,
		EventType: eventType,
		Actions: []Action{
			{Type: "add_tag", Params: map[string]interface{}{"entity": "ticket", "tag": "auto"}},
		},
	}
	if mutate != nil {
		mutate(req)
	}
	rule, err := store.CreateRule(context.Background(), req)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func countLogs(t *testing.T, db *gorm.DB, ruleID uint) int64 {
	t.Helper()
	var n int64
	query := db.Model(&models.AutomationExecutionLog{})
	if ruleID != 0 {
		query = query.Where("rule_id = ?", ruleID)
	}
	if err := query.Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func TestHandleEvent_MatchRunsActionsAndLogs(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)
	rule := addTagRule(t, store, "tag new tickets", "ticket_created", nil)

	evt := NewEvent("ticket_created", map[string]interface{}{"priority": "normal"})
	evt.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), evt)

	var tags []models.TicketTag
	db.Where("ticket_id = ?", ticket.ID).Find(&tags)
	if len(tags) != 1 || tags[0].Tag != "auto" {
		t.Fatalf("expected one auto tag, got %v", tags)
	}

	if got := countLogs(t, db, rule.ID); got != 1 {
		t.Fatalf("expected 1 execution log, got %d", got)
	}
	var log models.AutomationExecutionLog
	db.Where("rule_id = ?", rule.ID).First(&log)
	if log.Outcome != models.OutcomeSuccess {
		t.Errorf("expected outcome success, got %s", log.Outcome)
	}
	if log.EventID != evt.ID || log.EventType != "ticket_created" {
		t.Errorf("log should reference the originating event, got %+v", log)
	}

	updated, _ := store.GetRule(context.Background(), rule.ID)
	if updated.ExecutionCount != 1 {
		t.Errorf("expected execution_count 1, got %d", updated.ExecutionCount)
	}
	if updated.LastTriggeredAt == nil {
		t.Error("expected last_triggered_at to be set after the action phase")
	}
}

func TestHandleEvent_NoMatchNoLog(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)
	rule := addTagRule(t, store, "urgent only", "ticket_created", func(req *RuleCreateRequest) {
		req.Conditions = []Condition{{Field: "payload.priority", Op: "eq", Value: "urgent"}}
	})

	evt := NewEvent("ticket_created", map[string]interface{}{"priority": "low"})
	evt.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), evt)

	if got := countLogs(t, db, rule.ID); got != 0 {
		t.Fatalf("unmatched rule must not log, got %d entries", got)
	}
	updated, _ := store.GetRule(context.Background(), rule.ID)
	if updated.ExecutionCount != 0 || updated.LastTriggeredAt != nil {
		t.Error("unmatched rule must not touch counters")
	}
}

func TestHandleEvent_CooldownSkips(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)
	rule := addTagRule(t, store, "cooldown rule", "ticket_updated", func(req *RuleCreateRequest) {
		req.CooldownSeconds = 60
	})

	evt := NewEvent("ticket_updated", nil)
	evt.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), evt)

	if got := countLogs(t, db, rule.ID); got != 1 {
		t.Fatalf("first firing should log, got %d", got)
	}

	// Replay well inside the window: no log, no counter change.
	replay := NewEvent("ticket_updated", nil)
	replay.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), replay)

	if got := countLogs(t, db, rule.ID); got != 1 {
		t.Fatalf("cooldown must suppress the second firing, got %d logs", got)
	}
	updated, _ := store.GetRule(context.Background(), rule.ID)
	if updated.ExecutionCount != 1 {
		t.Errorf("cooldown skip must not bump execution_count, got %d", updated.ExecutionCount)
	}
}

func TestHandleEvent_CooldownExpired(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)
	rule := addTagRule(t, store, "expired cooldown", "ticket_updated", func(req *RuleCreateRequest) {
		req.CooldownSeconds = 60
	})

	past := time.Now().Add(-2 * time.Minute)
	db.Model(&models.AutomationRule{}).Where("id = ?", rule.ID).
		Update("last_triggered_at", past)

	evt := NewEvent("ticket_updated", nil)
	evt.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), evt)

	if got := countLogs(t, db, rule.ID); got != 1 {
		t.Fatalf("expired cooldown should allow firing, got %d logs", got)
	}
}

func TestHandleEvent_StopAfterMatch(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)

	high := addTagRule(t, store, "high priority stopper", "ticket_created", func(req *RuleCreateRequest) {
		req.Priority = 10
		req.StopAfterMatch = true
	})
	low := addTagRule(t, store, "low priority follower", "ticket_created", func(req *RuleCreateRequest) {
		req.Priority = 5
	})

	evt := NewEvent("ticket_created", nil)
	evt.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), evt)

	if got := countLogs(t, db, high.ID); got != 1 {
		t.Fatalf("expected the stopping rule to log once, got %d", got)
	}
	if got := countLogs(t, db, low.ID); got != 0 {
		t.Fatalf("stop_after_match must prevent lower-priority rules, got %d logs", got)
	}
}

func TestHandleEvent_PriorityOrderWithoutStop(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)

	addTagRule(t, store, "first", "ticket_created", func(req *RuleCreateRequest) { req.Priority = 10 })
	addTagRule(t, store, "second", "ticket_created", func(req *RuleCreateRequest) { req.Priority = 5 })

	evt := NewEvent("ticket_created", nil)
	evt.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), evt)

	if got := countLogs(t, db, 0); got != 2 {
		t.Fatalf("both rules should fire, got %d logs", got)
	}
}

func TestHandleEvent_DepthGuard(t *testing.T) {
	db, store, _, svc := newEngine(t)

	ruleA, err := store.CreateRule(context.Background(), &RuleCreateRequest{
		Name:      "X emits Y",
		EventType: "event_x",
		Actions: []Action{
			{Type: "emit_event", Params: map[string]interface{}{"event_type": "event_y"}},
		},
	})
	if err != nil {
		t.Fatalf("create rule A: %v", err)
	}
	ruleB, err := store.CreateRule(context.Background(), &RuleCreateRequest{
		Name:      "Y emits X",
		EventType: "event_y",
		Actions: []Action{
			{Type: "emit_event", Params: map[string]interface{}{"event_type": "event_x"}},
		},
	})
	if err != nil {
		t.Fatalf("create rule B: %v", err)
	}

	svc.HandleEvent(context.Background(), NewEvent("event_x", nil))

	// Depths 0, 1 and 2 dispatch; the emit at depth 2 trips the guard.
	if got := countLogs(t, db, ruleA.ID); got != 2 {
		t.Fatalf("rule A should fire at depths 0 and 2, got %d logs", got)
	}
	if got := countLogs(t, db, ruleB.ID); got != 1 {
		t.Fatalf("rule B should fire at depth 1 only, got %d logs", got)
	}

	// emit_event re-enters synchronously, so the deepest execution is
	// recorded first: rule A's depth-2 failure commits inside rule A's
	// own depth-0 action phase.
	var logs []models.AutomationExecutionLog
	db.Where("rule_id = ?", ruleA.ID).Order("id ASC").Find(&logs)
	if logs[0].Outcome != models.OutcomeFailure {
		t.Errorf("depth-2 emit should fail and be recorded first, got %s", logs[0].Outcome)
	}
	if !strings.Contains(logs[0].Error, "depth") {
		t.Errorf("expected a depth error, got %q", logs[0].Error)
	}
	last := logs[len(logs)-1]
	if last.Outcome != models.OutcomeSuccess {
		t.Errorf("depth-0 emit should succeed and be recorded last, got %s", last.Outcome)
	}
}

func TestHandleEvent_TopLevelDepthDrop(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)
	rule := addTagRule(t, store, "never at depth 3", "ticket_created", nil)

	evt := NewEvent("ticket_created", nil)
	evt.TicketID = ticket.ID
	evt.Depth = 3
	svc.HandleEvent(context.Background(), evt)

	if got := countLogs(t, db, rule.ID); got != 0 {
		t.Fatalf("events at the depth limit must be dropped, got %d logs", got)
	}
}

func TestHandleEvent_PartialFailure(t *testing.T) {
	db, store, _, svc := newEngine(t)
	ticket := createTicket(t, db)

	rule, err := store.CreateRule(context.Background(), &RuleCreateRequest{
		Name:      "partially broken",
		EventType: "ticket_created",
		Actions: []Action{
			// No conversation id on the event: resolution fails.
			{Type: "assign_conversation", Params: map[string]interface{}{"agent_id": float64(1)}},
			{Type: "add_tag", Params: map[string]interface{}{"entity": "ticket", "tag": "seen"}},
		},
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	evt := NewEvent("ticket_created", nil)
	evt.TicketID = ticket.ID
	svc.HandleEvent(context.Background(), evt)

	var log models.AutomationExecutionLog
	if err := db.Where("rule_id = ?", rule.ID).First(&log).Error; err != nil {
		t.Fatalf("expected an execution log: %v", err)
	}
	if log.Outcome != models.OutcomePartialFailure {
		t.Fatalf("expected partial_failure, got %s", log.Outcome)
	}
	if log.Error == "" {
		t.Error("expected joined error message on the log entry")
	}
	if !strings.Contains(log.ActionResults, `"success":false`) ||
		!strings.Contains(log.ActionResults, `"success":true`) {
		t.Errorf("expected one failed and one succeeded result, got %s", log.ActionResults)
	}
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name     string
		results  []ActionResult
		expected string
	}{
		{"all success", []ActionResult{{Success: true}, {Success: true}}, models.OutcomeSuccess},
		{"all failed", []ActionResult{{Success: false}, {Success: false}}, models.OutcomeFailure},
		{"mixed", []ActionResult{{Success: true}, {Success: false}}, models.OutcomePartialFailure},
		{"single success", []ActionResult{{Success: true}}, models.OutcomeSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyOutcome(tt.results); got != tt.expected {
				t.Errorf("classifyOutcome() = %s, expected %s", got, tt.expected)
			}
		})
	}
}

func TestOnCooldown(t *testing.T) {
	now := time.Now()
	recent := now.Add(-30 * time.Second)
	old := now.Add(-2 * time.Minute)

	tests := []struct {
		name     string
		rule     models.AutomationRule
		expected bool
	}{
		{"no cooldown configured", models.AutomationRule{CooldownSeconds: 0, LastTriggeredAt: &recent}, false},
		{"never triggered", models.AutomationRule{CooldownSeconds: 60}, false},
		{"inside window", models.AutomationRule{CooldownSeconds: 60, LastTriggeredAt: &recent}, true},
		{"window elapsed", models.AutomationRule{CooldownSeconds: 60, LastTriggeredAt: &old}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := onCooldown(&tt.rule, now); got != tt.expected {
				t.Errorf("onCooldown() = %v, expected %v", got, tt.expected)
			}
		})
	}
}
