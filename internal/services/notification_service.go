package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsdesk/internal/models"
)

// NotificationService enqueues outbound notifications. Delivery is a
// separate pipeline; everything here is fire-and-forget row creation.
type NotificationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewNotificationService(db *gorm.DB, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{db: db, logger: logger}
}

// Enqueue creates a queued notification and returns its id.
func (s *NotificationService) Enqueue(ctx context.Context, channel, recipient, subject, body string) (string, error) {
	n := &models.Notification{
		ID:        uuid.NewString(),
		Channel:   channel,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    "queued",
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return "", err
	}
	s.logger.Debugf("notification %s queued on channel %s for %s", n.ID, channel, recipient)
	return n.ID, nil
}
