package services

import "github.com/google/uuid"

// Event is the immutable envelope the surrounding system fires into the
// automation engine. Correlation identifiers are zero when absent. Depth
// is carried explicitly on the envelope (not inside the payload) and is
// incremented each time an emit_event action re-enters the dispatcher.
type Event struct {
	ID             string
	Type           string
	Payload        map[string]interface{}
	TicketID       uint
	ProjectID      uint
	WorkOrderID    uint
	ConversationID uint
	SubscriberID   uint
	Actor          string
	Depth          int
}

// NewEvent builds a depth-zero event with a fresh id.
func NewEvent(eventType string, payload map[string]interface{}) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: payload,
	}
}

// child derives the event emitted by an emit_event action: depth+1,
// fresh id, correlation ids inherited from the parent.
func (e Event) child(eventType string, payload map[string]interface{}) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		Payload:        payload,
		TicketID:       e.TicketID,
		ProjectID:      e.ProjectID,
		WorkOrderID:    e.WorkOrderID,
		ConversationID: e.ConversationID,
		SubscriberID:   e.SubscriberID,
		Actor:          e.Actor,
		Depth:          e.Depth + 1,
	}
}

// buildEventContext flattens an event into the mapping conditions are
// evaluated against. Identifiers are included only when present so that
// "exists" conditions behave sensibly.
func buildEventContext(evt Event) map[string]interface{} {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	ctx := map[string]interface{}{
		"event_type": evt.Type,
		"payload":    payload,
	}
	if evt.TicketID != 0 {
		ctx["ticket_id"] = evt.TicketID
	}
	if evt.ProjectID != 0 {
		ctx["project_id"] = evt.ProjectID
	}
	if evt.WorkOrderID != 0 {
		ctx["work_order_id"] = evt.WorkOrderID
	}
	if evt.ConversationID != 0 {
		ctx["conversation_id"] = evt.ConversationID
	}
	if evt.SubscriberID != 0 {
		ctx["subscriber_id"] = evt.SubscriberID
	}
	if evt.Actor != "" {
		ctx["actor"] = evt.Actor
	}
	return ctx
}
