package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"opsdesk/internal/metrics"
	"opsdesk/internal/services"
)

// AutomationHandler exposes rule administration, the execution log and
// the event ingestion endpoint. Rule CRUD is a thin pass-through to the
// rule store.
type AutomationHandler struct {
	rules      *services.RuleStore
	automation *services.AutomationService
	stream     *services.StreamHub
}

func NewAutomationHandler(rules *services.RuleStore, automation *services.AutomationService, stream *services.StreamHub) *AutomationHandler {
	return &AutomationHandler{rules: rules, automation: automation, stream: stream}
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	var req services.RuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rules, total, err := h.rules.ListRules(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "total": total})
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule 获取单条规则
func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rule, err := h.rules.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.RuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 软删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.rules.DeleteRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "archived"})
}

// ListRuleLogs 获取规则的执行记录
func (h *AutomationHandler) ListRuleLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.rules.ListLogs(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// RuleStats 规则状态统计
func (h *AutomationHandler) RuleStats(c *gin.Context) {
	counts, err := h.rules.CountRulesByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to count rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// EngineMetrics exposes the process-local counters: executions by
// outcome and rate-limit drops.
func (h *AutomationHandler) EngineMetrics(c *gin.Context) {
	execTotal, execBy := metrics.ExecutionSnapshot()
	dropTotal, dropBy := metrics.RateLimitSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"executions": gin.H{
			"total":      execTotal,
			"by_outcome": execBy,
		},
		"rate_limit_drops": gin.H{
			"total":     dropTotal,
			"by_prefix": dropBy,
		},
	})
}

// EventRequest is the wire shape for firing a domain event over HTTP.
type EventRequest struct {
	EventType      string                 `json:"event_type" binding:"required"`
	Payload        map[string]interface{} `json:"payload"`
	TicketID       uint                   `json:"ticket_id"`
	ProjectID      uint                   `json:"project_id"`
	WorkOrderID    uint                   `json:"work_order_id"`
	ConversationID uint                   `json:"conversation_id"`
	SubscriberID   uint                   `json:"subscriber_id"`
	Actor          string                 `json:"actor"`
}

// FireEvent feeds an event into the dispatcher. Always 202: automation
// outcomes surface through the execution log, never through this call.
func (h *AutomationHandler) FireEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	evt := services.NewEvent(req.EventType, req.Payload)
	evt.TicketID = req.TicketID
	evt.ProjectID = req.ProjectID
	evt.WorkOrderID = req.WorkOrderID
	evt.ConversationID = req.ConversationID
	evt.SubscriberID = req.SubscriberID
	evt.Actor = req.Actor

	h.automation.HandleEvent(c.Request.Context(), evt)

	c.JSON(http.StatusAccepted, gin.H{"event_id": evt.ID})
}

// Stream upgrades to the live execution feed.
func (h *AutomationHandler) Stream(c *gin.Context) {
	h.stream.HandleWebSocket(c)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automation")
	{
		auto.GET("/rules", handler.ListRules)
		auto.POST("/rules", handler.CreateRule)
		auto.GET("/rules/stats", handler.RuleStats)
		auto.GET("/metrics", handler.EngineMetrics)
		auto.GET("/rules/:id", handler.GetRule)
		auto.PUT("/rules/:id", handler.UpdateRule)
		auto.DELETE("/rules/:id", handler.DeleteRule)
		auto.GET("/rules/:id/logs", handler.ListRuleLogs)
		auto.POST("/events", handler.FireEvent)
		auto.GET("/stream", handler.Stream)
	}
}
