package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobnotify/internal/model"
	"jobnotify/internal/service/dispatch"
	"jobnotify/pkg/logger"
)

type DispatchHandler struct {
	runner dispatch.Runner
	logger *zap.Logger
}

func NewDispatchHandler(runner dispatch.Runner, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		runner: runner,
		logger: logger,
	}
}

type dispatchResponse struct {
	OK      bool                   `json:"ok"`
	Sent    int                    `json:"sent"`
	Total   int                    `json:"total"`
	Results []model.DeliveryResult `json:"results,omitempty"`
}

const errQueueRead = "failed to read notification queue"

// Dispatch handles POST /notifications/jobs/dispatch
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "limit must be an integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	summary, err := h.runner.Run(ctx, dispatch.Request{Limit: limit, Trigger: dispatch.TriggerHTTP})
	if err != nil {
		logger.WithTrace(ctx, h.logger).Error("Dispatch request failed", zap.Error(err))
		// 存储层错误只写日志，不返回给调用方
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": errQueueRead})
		return
	}

	c.JSON(http.StatusOK, dispatchResponse{
		OK:      true,
		Sent:    summary.Sent,
		Total:   summary.Total,
		Results: summary.Results,
	})
}
