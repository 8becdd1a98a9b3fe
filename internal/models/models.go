package models

import (
	"time"

	"gorm.io/gorm"
)

// Person covers everyone the engine can reference: agents, field
// technicians and subscribers share one table.
type Person struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Phone     string         `json:"phone"`
	Role      string         `gorm:"default:'subscriber'" json:"role"` // subscriber, agent, technician, admin
	Status    string         `gorm:"default:'active'" json:"status"`   // active, inactive
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Ticket is the primary support entity automations mutate.
type Ticket struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Title              string         `gorm:"not null" json:"title"`
	Description        string         `gorm:"type:text" json:"description"`
	SubscriberID       uint           `gorm:"index" json:"subscriber_id"`
	ProjectID          *uint          `gorm:"index" json:"project_id"`
	AssignedToPersonID *uint          `gorm:"index" json:"assigned_to_person_id"`
	TicketType         string         `gorm:"default:'service'" json:"ticket_type"` // service, incident, request, complaint
	Priority           string         `gorm:"default:'normal'" json:"priority"`     // low, normal, high, urgent
	Status             string         `gorm:"default:'open'" json:"status"`         // open, in_progress, resolved, closed
	ResolvedAt         *time.Time     `json:"resolved_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`

	Subscriber Person      `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty"`
	AssignedTo *Person     `gorm:"foreignKey:AssignedToPersonID" json:"assigned_to,omitempty"`
	Project    *Project    `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Tags       []TicketTag `gorm:"foreignKey:TicketID" json:"tags,omitempty"`
}

// TicketTag is a dedicated tag relation. The composite unique index is
// what makes add_tag idempotent at the database level.
type TicketTag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"uniqueIndex:idx_ticket_tag;not null" json:"ticket_id"`
	Tag       string    `gorm:"uniqueIndex:idx_ticket_tag;not null" json:"tag"`
	CreatedAt time.Time `json:"created_at"`
}

// Project groups tickets and work orders for one customer engagement.
type Project struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Status    string         `gorm:"default:'active'" json:"status"` // active, on_hold, completed, cancelled
	Stage     string         `gorm:"default:'intake'" json:"stage"`  // intake, quoting, scheduled, in_progress, done
	Tags      string         `json:"tags"`                           // comma separated
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// WorkOrder is a dispatchable unit of field work, optionally linked to
// the ticket/project it originated from.
type WorkOrder struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Title                string         `gorm:"not null" json:"title"`
	TicketID             *uint          `gorm:"index" json:"ticket_id"`
	ProjectID            *uint          `gorm:"index" json:"project_id"`
	AssignedTechnicianID *uint          `gorm:"index" json:"assigned_technician_id"`
	Priority             string         `gorm:"default:'normal'" json:"priority"` // low, normal, high, urgent
	Status               string         `gorm:"default:'open'" json:"status"`     // open, scheduled, in_progress, completed, cancelled
	Tags                 string         `json:"tags"`                             // comma separated
	ScheduledFor         *time.Time     `json:"scheduled_for"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`

	Ticket             *Ticket  `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	Project            *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	AssignedTechnician *Person  `gorm:"foreignKey:AssignedTechnicianID" json:"assigned_technician,omitempty"`
}

// Conversation is a live messaging thread between a subscriber and an agent.
type Conversation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SubscriberID  uint       `gorm:"index" json:"subscriber_id"`
	AgentID       *uint      `gorm:"index" json:"agent_id"`
	TeamID        *uint      `gorm:"index" json:"team_id"`
	Status        string     `gorm:"default:'open'" json:"status"` // open, assigned, resolved, closed
	Channel       string     `json:"channel"`                      // web, email, phone, chat
	Tags          string     `json:"tags"`                         // comma separated
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Subscriber Person  `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty"`
	Agent      *Person `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
}

// Notification is a queued outbound message. Delivery happens elsewhere;
// the engine only appends rows with status "queued".
type Notification struct {
	ID        string     `gorm:"primaryKey" json:"id"` // uuid
	Channel   string     `gorm:"index" json:"channel"` // email, sms, in_app, webhook
	Recipient string     `gorm:"not null" json:"recipient"`
	Subject   string     `json:"subject"`
	Body      string     `gorm:"type:text" json:"body"`
	Status    string     `gorm:"default:'queued';index" json:"status"` // queued, sent, failed
	SentAt    *time.Time `json:"sent_at"`
	CreatedAt time.Time  `json:"created_at"`
}
