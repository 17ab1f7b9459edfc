// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"txn-ingest-go/internal/service"
	"txn-ingest-go/pkg/log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// maxUploadBytes 限制单次提交的文件大小（32MB）。
const maxUploadBytes = 32 << 20

// UploadHandler 负责处理批量文件提交与进度查询的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// SubmitUpload 处理批量文件的提交请求。
// 响应码直接取自策略返回的 Result：200 已完成、202 已接受、
// 422 内容不合法、500 基础设施故障。
func (h *UploadHandler) SubmitUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的文件"})
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "文件超出大小限制"})
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		log.Error("SubmitUpload: 读取上传内容失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传内容失败"})
		return
	}

	result := h.uploadService.SubmitUpload(c.Request.Context(), header.Filename, content)

	c.JSON(result.StatusCode, gin.H{
		"code":             result.StatusCode,
		"message":          result.Message,
		"uploadId":         result.UploadID,
		"transactionCount": result.TransactionCount,
	})
}

// GetUploadStatus 处理上传进度查询的请求。
func (h *UploadHandler) GetUploadStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的上传 ID"})
		return
	}

	upload, err := h.uploadService.GetUploadStatus(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "未找到上传记录",
			})
			return
		}
		log.Error("GetUploadStatus: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取上传状态失败"})
		return
	}

	resp := gin.H{
		"code":    http.StatusOK,
		"message": "获取上传状态成功",
		"data":    upload,
	}
	// 原始文件已落对象存储时附带临时下载链接，生成失败不影响状态查询本身。
	if upload.StorageReference != "" {
		if url, err := h.uploadService.RawFileURL(upload); err != nil {
			log.Warnf("[GetUploadStatus] 生成下载链接失败, upload=%d: %v", upload.ID, err)
		} else {
			resp["downloadUrl"] = url
		}
	}
	c.JSON(http.StatusOK, resp)
}
