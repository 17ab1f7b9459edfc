package handler

import (
	"context"
	"net/http"
	"strconv"

	"txn-ingest-go/internal/queue"
	"txn-ingest-go/internal/service"
	"txn-ingest-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QueueInspector 抽象了统计查询所需的队列能力。
type QueueInspector interface {
	Stats(ctx context.Context) (queue.QueueStats, error)
}

// AdminHandler 负责处理运维侧的 API 请求：队列统计与交易检索。
type AdminHandler struct {
	queue         QueueInspector
	searchService service.SearchService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(q QueueInspector, searchService service.SearchService) *AdminHandler {
	return &AdminHandler{queue: q, searchService: searchService}
}

// GetQueueStats 返回队列概览：流长度、未确认数、死信数与消费者组状态。
func (h *AdminHandler) GetQueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		log.Error("GetQueueStats: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取队列统计失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取队列统计成功",
		"data":    stats,
	})
}

// SearchTransactions 处理交易检索请求。
func (h *AdminHandler) SearchTransactions(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 q 参数"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	docs, err := h.searchService.SearchTransactions(c.Request.Context(), query, limit)
	if err != nil {
		log.Error("SearchTransactions: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索交易失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "检索成功",
		"data":    docs,
	})
}
