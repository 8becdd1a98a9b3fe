package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"opsdesk/internal/config"
	"opsdesk/internal/handlers"
	"opsdesk/internal/middleware"
	"opsdesk/internal/observability"
	"opsdesk/internal/services"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the opsdesk engine",
	Long:  `Run the opsdesk engine and its admin API`,
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// run is the CLI variant of cmd/server: same wiring, no automatic
// migration (use the migrate command first).
func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		appLogger.Warnf("init tracing: %v", err)
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
		cfg.Database.Name, cfg.Database.Port, cfg.Database.SSLMode,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}

	resolvers := services.NewResolverRegistry()
	notifications := services.NewNotificationService(db, appLogger)
	conversations := services.NewConversationService(db, appLogger)
	executor := services.NewActionExecutor(db, appLogger, resolvers, notifications, conversations,
		cfg.Automation.MaxDepth, cfg.Automation.DefaultNotificationChannel)
	ruleStore := services.NewRuleStore(db, appLogger)
	ruleStore.SetActionValidator(executor)
	automation := services.NewAutomationService(db, appLogger, ruleStore, executor, cfg.Automation.MaxDepth)

	streamHub := services.NewStreamHub(appLogger)
	go streamHub.Run()
	automation.SetStreamHub(streamHub)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimitMiddleware(cfg))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(ruleStore, automation, streamHub))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}
	go func() {
		appLogger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}
