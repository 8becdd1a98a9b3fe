package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsdesk/internal/models"
)

// ConversationService owns conversation mutations the engine delegates
// to, primarily assignment.
type ConversationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewConversationService(db *gorm.DB, logger *logrus.Logger) *ConversationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConversationService{db: db, logger: logger}
}

// AssignConversation assigns a conversation to an agent, optionally
// recording the team and the person who triggered the assignment.
// Re-assigning to the current agent is a no-op.
func (s *ConversationService) AssignConversation(ctx context.Context, conversationID, agentID uint, teamID, assignedByID *uint) error {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, conversationID).Error; err != nil {
		return fmt.Errorf("conversation %d not found: %w", conversationID, err)
	}
	if conv.AgentID != nil && *conv.AgentID == agentID {
		return nil
	}

	var agent models.Person
	if err := s.db.WithContext(ctx).
		Where("id = ? AND role = ? AND status = ?", agentID, "agent", "active").
		First(&agent).Error; err != nil {
		return fmt.Errorf("agent %d not available: %w", agentID, err)
	}

	updates := map[string]interface{}{
		"agent_id": agentID,
	}
	if teamID != nil {
		updates["team_id"] = *teamID
	}
	if conv.Status == "open" || conv.Status == "" {
		updates["status"] = "assigned"
	}
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to assign conversation %d: %w", conversationID, err)
	}

	by := uint(0)
	if assignedByID != nil {
		by = *assignedByID
	}
	s.logger.Infof("Assigned conversation %d to agent %d (by %d)", conversationID, agentID, by)
	return nil
}
