package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsdesk/internal/models"
)

// Action is one side-effecting operation declared on a rule.
type Action struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

// ActionResult records how a single action went. A failed action never
// stops the rest of the batch.
type ActionResult struct {
	ActionType string `json:"action_type"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type actionHandler func(ctx context.Context, act Action, evt Event) error

// setFieldAllowList restricts which columns set_field may touch,
// per entity type.
var setFieldAllowList = map[string]map[string]bool{
	"ticket": {
		"status":                true,
		"priority":              true,
		"assigned_to_person_id": true,
		"ticket_type":           true,
	},
	"project": {
		"status": true,
		"stage":  true,
	},
	"work_order": {
		"status":                 true,
		"priority":               true,
		"assigned_technician_id": true,
	},
	"conversation": {
		"status": true,
	},
}

var notificationChannels = map[string]bool{
	"email":   true,
	"sms":     true,
	"in_app":  true,
	"webhook": true,
}

// ActionExecutor dispatches actions to their handlers. The handler table
// is built once in the constructor; emit_event re-entry into the
// dispatcher is wired afterwards via SetDispatcher.
type ActionExecutor struct {
	db             *gorm.DB
	logger         *logrus.Logger
	resolvers      ResolverRegistry
	notifications  *NotificationService
	conversations  *ConversationService
	maxDepth       int
	defaultChannel string
	dispatch       func(ctx context.Context, evt Event)
	handlers       map[string]actionHandler
}

func NewActionExecutor(
	db *gorm.DB,
	logger *logrus.Logger,
	resolvers ResolverRegistry,
	notifications *NotificationService,
	conversations *ConversationService,
	maxDepth int,
	defaultChannel string,
) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if defaultChannel == "" {
		defaultChannel = "in_app"
	}
	e := &ActionExecutor{
		db:             db,
		logger:         logger,
		resolvers:      resolvers,
		notifications:  notifications,
		conversations:  conversations,
		maxDepth:       maxDepth,
		defaultChannel: defaultChannel,
	}
	e.handlers = map[string]actionHandler{
		"assign_conversation": e.assignConversation,
		"set_field":           e.setField,
		"add_tag":             e.addTag,
		"send_notification":   e.sendNotification,
		"create_work_order":   e.createWorkOrder,
		"emit_event":          e.emitEvent,
	}
	return e
}

// SetDispatcher wires the emit_event re-entry point. Set by the
// automation service after both sides exist.
func (e *ActionExecutor) SetDispatcher(dispatch func(ctx context.Context, evt Event)) {
	e.dispatch = dispatch
}

// KnownActionType reports whether the executor has a handler for tag.
// Used by rule validation at create/update time.
func (e *ActionExecutor) KnownActionType(tag string) bool {
	_, ok := e.handlers[tag]
	return ok
}

// Run executes each action independently, in declared order, collecting
// one result per action. Failures are recorded, never propagated.
func (e *ActionExecutor) Run(ctx context.Context, actions []Action, evt Event) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, act := range actions {
		result := ActionResult{ActionType: act.Type, Success: true}
		handler, ok := e.handlers[act.Type]
		if !ok {
			result.Success = false
			result.Error = fmt.Sprintf("action type %q not implemented", act.Type)
		} else if err := handler(ctx, act, evt); err != nil {
			result.Success = false
			result.Error = err.Error()
			e.logger.Warnf("automation: action %s failed for event %s: %v", act.Type, evt.ID, err)
		}
		results = append(results, result)
	}
	return results
}

func (e *ActionExecutor) assignConversation(ctx context.Context, act Action, evt Event) error {
	agentID, ok := paramUint(act.Params, "agent_id")
	if !ok || agentID == 0 {
		return fmt.Errorf("agent_id param required")
	}
	resolved, err := e.resolvers.Resolve(ctx, e.db, "conversation", evt)
	if err != nil {
		return err
	}
	var teamID, assignedByID *uint
	if v, ok := paramUint(act.Params, "team_id"); ok {
		teamID = &v
	}
	if v, ok := paramUint(act.Params, "assigned_by_id"); ok {
		assignedByID = &v
	}
	return e.conversations.AssignConversation(ctx, resolved.ID, agentID, teamID, assignedByID)
}

func (e *ActionExecutor) setField(ctx context.Context, act Action, evt Event) error {
	entity := paramString(act.Params, "entity")
	field := paramString(act.Params, "field")
	if entity == "" || field == "" {
		return fmt.Errorf("entity and field params required")
	}
	allowed, ok := setFieldAllowList[entity]
	if !ok {
		return fmt.Errorf("set_field does not support entity %q", entity)
	}
	if !allowed[field] {
		return fmt.Errorf("field %q is not settable on %s", field, entity)
	}
	resolved, err := e.resolvers.Resolve(ctx, e.db, entity, evt)
	if err != nil {
		return err
	}
	// Value is stored as-is; column constraints are the only type check.
	return e.db.WithContext(ctx).Model(resolved.Model).
		Update(field, act.Params["value"]).Error
}

func (e *ActionExecutor) addTag(ctx context.Context, act Action, evt Event) error {
	entity := paramString(act.Params, "entity")
	tag := paramString(act.Params, "tag")
	if entity == "" || tag == "" {
		return fmt.Errorf("entity and tag params required")
	}
	resolved, err := e.resolvers.Resolve(ctx, e.db, entity, evt)
	if err != nil {
		return err
	}

	// Tickets have a dedicated tag relation; everything else keeps an
	// inline comma-separated list.
	if ticket, ok := resolved.Model.(*models.Ticket); ok {
		var existing models.TicketTag
		err := e.db.WithContext(ctx).
			Where("ticket_id = ? AND tag = ?", ticket.ID, tag).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		createErr := e.db.WithContext(ctx).Create(&models.TicketTag{TicketID: ticket.ID, Tag: tag}).Error
		if createErr != nil && isDuplicateErr(createErr) {
			// Lost the race to another worker; the tag is there.
			return nil
		}
		return createErr
	}

	tags, err := inlineTags(resolved.Model)
	if err != nil {
		return err
	}
	if hasTag(tags, tag) {
		return nil
	}
	if tags != "" {
		tags += ","
	}
	tags += tag
	return e.db.WithContext(ctx).Model(resolved.Model).Update("tags", tags).Error
}

func (e *ActionExecutor) sendNotification(ctx context.Context, act Action, evt Event) error {
	recipient := paramString(act.Params, "recipient")
	if recipient == "" {
		return fmt.Errorf("recipient param required")
	}
	channel := paramString(act.Params, "channel")
	if !notificationChannels[channel] {
		channel = e.defaultChannel
	}
	_, err := e.notifications.Enqueue(ctx, channel,
		recipient,
		paramString(act.Params, "subject"),
		paramString(act.Params, "body"))
	return err
}

func (e *ActionExecutor) createWorkOrder(ctx context.Context, act Action, evt Event) error {
	title := paramString(act.Params, "title")
	if title == "" {
		return fmt.Errorf("title param required")
	}
	wo := &models.WorkOrder{
		Title:  title,
		Status: "open",
	}
	if evt.TicketID != 0 {
		id := evt.TicketID
		wo.TicketID = &id
	}
	if evt.ProjectID != 0 {
		id := evt.ProjectID
		wo.ProjectID = &id
	}
	if techID, ok := paramUint(act.Params, "assigned_technician_id"); ok && techID != 0 {
		wo.AssignedTechnicianID = &techID
	}
	if err := e.db.WithContext(ctx).Create(wo).Error; err != nil {
		return fmt.Errorf("failed to create work order: %w", err)
	}
	e.logger.Infof("automation: created work order %d from event %s", wo.ID, evt.ID)
	return nil
}

func (e *ActionExecutor) emitEvent(ctx context.Context, act Action, evt Event) error {
	eventType := paramString(act.Params, "event_type")
	if eventType == "" {
		return fmt.Errorf("event_type param required")
	}
	if evt.Depth+1 >= e.maxDepth {
		return fmt.Errorf("automation depth %d would exceed limit %d", evt.Depth+1, e.maxDepth)
	}
	if e.dispatch == nil {
		return fmt.Errorf("emit_event dispatcher not wired")
	}

	payload, _ := act.Params["payload"].(map[string]interface{})
	child := evt.child(eventType, payload)
	if v, ok := paramUint(act.Params, "ticket_id"); ok {
		child.TicketID = v
	}
	if v, ok := paramUint(act.Params, "project_id"); ok {
		child.ProjectID = v
	}
	if v, ok := paramUint(act.Params, "work_order_id"); ok {
		child.WorkOrderID = v
	}
	if v, ok := paramUint(act.Params, "conversation_id"); ok {
		child.ConversationID = v
	}

	// Synchronous re-entry: the chain completes inside this call stack.
	e.dispatch(ctx, child)
	return nil
}

func paramString(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

// paramUint accepts the numeric shapes JSON decoding produces.
func paramUint(params map[string]interface{}, key string) (uint, bool) {
	switch v := params[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint:
		return v, true
	case string:
		f, ok := toFloat(v)
		if !ok || f < 0 {
			return 0, false
		}
		return uint(f), true
	default:
		return 0, false
	}
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func inlineTags(model interface{}) (string, error) {
	switch m := model.(type) {
	case *models.Project:
		return m.Tags, nil
	case *models.WorkOrder:
		return m.Tags, nil
	case *models.Conversation:
		return m.Tags, nil
	default:
		return "", fmt.Errorf("entity has no tag support")
	}
}

func hasTag(tags, tag string) bool {
	for _, t := range strings.Split(tags, ",") {
		if strings.TrimSpace(t) == tag {
			return true
		}
	}
	return false
}
