package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"opsdesk/internal/models"
)

// ResolvedEntity is what a resolver hands back to action handlers: the
// loaded model plus enough metadata to mutate it generically.
type ResolvedEntity struct {
	Kind  string
	ID    uint
	Model interface{}
}

// ResolverFunc locates one entity from an event's correlation identifiers.
type ResolverFunc func(ctx context.Context, db *gorm.DB, evt Event) (*ResolvedEntity, error)

// ResolverRegistry maps an entity-type tag to its resolver. The table is
// built once at startup and injected; nothing registers into it at runtime.
type ResolverRegistry map[string]ResolverFunc

// NewResolverRegistry builds the default registry for the entity types
// automations can touch.
func NewResolverRegistry() ResolverRegistry {
	return ResolverRegistry{
		"ticket": func(ctx context.Context, db *gorm.DB, evt Event) (*ResolvedEntity, error) {
			if evt.TicketID == 0 {
				return nil, fmt.Errorf("event %s carries no ticket id", evt.Type)
			}
			var ticket models.Ticket
			if err := db.WithContext(ctx).First(&ticket, evt.TicketID).Error; err != nil {
				return nil, fmt.Errorf("ticket %d not found: %w", evt.TicketID, err)
			}
			return &ResolvedEntity{Kind: "ticket", ID: ticket.ID, Model: &ticket}, nil
		},
		"project": func(ctx context.Context, db *gorm.DB, evt Event) (*ResolvedEntity, error) {
			if evt.ProjectID == 0 {
				return nil, fmt.Errorf("event %s carries no project id", evt.Type)
			}
			var project models.Project
			if err := db.WithContext(ctx).First(&project, evt.ProjectID).Error; err != nil {
				return nil, fmt.Errorf("project %d not found: %w", evt.ProjectID, err)
			}
			return &ResolvedEntity{Kind: "project", ID: project.ID, Model: &project}, nil
		},
		"work_order": func(ctx context.Context, db *gorm.DB, evt Event) (*ResolvedEntity, error) {
			if evt.WorkOrderID == 0 {
				return nil, fmt.Errorf("event %s carries no work order id", evt.Type)
			}
			var wo models.WorkOrder
			if err := db.WithContext(ctx).First(&wo, evt.WorkOrderID).Error; err != nil {
				return nil, fmt.Errorf("work order %d not found: %w", evt.WorkOrderID, err)
			}
			return &ResolvedEntity{Kind: "work_order", ID: wo.ID, Model: &wo}, nil
		},
		"conversation": func(ctx context.Context, db *gorm.DB, evt Event) (*ResolvedEntity, error) {
			if evt.ConversationID == 0 {
				return nil, fmt.Errorf("event %s carries no conversation id", evt.Type)
			}
			var conv models.Conversation
			if err := db.WithContext(ctx).First(&conv, evt.ConversationID).Error; err != nil {
				return nil, fmt.Errorf("conversation %d not found: %w", evt.ConversationID, err)
			}
			return &ResolvedEntity{Kind: "conversation", ID: conv.ID, Model: &conv}, nil
		},
	}
}

// Resolve looks up the resolver for entityType and runs it.
func (r ResolverRegistry) Resolve(ctx context.Context, db *gorm.DB, entityType string, evt Event) (*ResolvedEntity, error) {
	resolver, ok := r[entityType]
	if !ok {
		return nil, fmt.Errorf("no resolver for entity type %q", entityType)
	}
	return resolver(ctx, db, evt)
}
