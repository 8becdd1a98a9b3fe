package main

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"opsdesk/internal/config"
	"opsdesk/internal/models"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
		cfg.Database.Name, cfg.Database.Port, cfg.Database.SSLMode,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.Person{},
		&models.Ticket{},
		&models.TicketTag{},
		&models.Project{},
		&models.WorkOrder{},
		&models.Conversation{},
		&models.Notification{},
		&models.AutomationRule{},
		&models.AutomationExecutionLog{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// Supporting indexes for the audit queries the admin API runs.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_execution_logs_rule_created ON automation_execution_logs(rule_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_status_created ON notifications(status, created_at)")

	log.Println("Indexes created")
}
