package api

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/pipeline"
	"ckd-decision-support/backend/go/internal/protocol_service/service"
	"ckd-decision-support/backend/go/pkg/logger"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Info 是 /status 返回的服务信息。
type Info struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// Handler 封装了所有 API endpoint 的处理函数。
type Handler struct {
	service        *service.Service
	info           Info
	maxUploadBytes int64
	log            *logger.Logger
}

// NewHandler 创建一个新的 Handler 实例。
func NewHandler(s *service.Service, info Info, maxUploadBytes int64, log *logger.Logger) *Handler {
	return &Handler{service: s, info: info, maxUploadBytes: maxUploadBytes, log: log}
}

// Health 用于存活探针。
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status 返回服务名、版本和运行环境。
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}

// UploadProtocol 处理 multipart 上传：file 字段必填，name 和 version 可选。
func (h *Handler) UploadProtocol(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		// 多留 1MB 给 multipart 的其他字段和边界。
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read the uploaded file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read the uploaded file"})
		return
	}

	res, err := h.service.Upload(c.Request.Context(), service.UploadRequest{
		Name:     c.PostForm("name"),
		Version:  c.PostForm("version"),
		Filename: fh.Filename,
		Data:     data,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Cached {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// ListProtocols 返回所有协议。
func (h *Handler) ListProtocols(c *gin.Context) {
	docs, err := h.service.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"protocols": docs})
}

// GetProtocol 返回协议详情、摘要和引用。
func (h *Handler) GetProtocol(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetProtocolFile 返回原始文件的签名地址。
func (h *Handler) GetProtocolFile(c *gin.Context) {
	url, err := h.service.FileURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// DeleteProtocol 删除协议。
func (h *Handler) DeleteProtocol(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ActivateProtocol 把协议设为默认检索范围。
func (h *Handler) ActivateProtocol(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Activate(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": id})
}

// Recommend 根据患者特征生成建议。模型问题仍然返回 200，由 degraded 字段标识。
func (h *Handler) Recommend(c *gin.Context) {
	var req pipeline.PatientFeatures
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.Recommend(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := service.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(models.NewErrorInfo("http_error", err)).
			WithPayload(map[string]interface{}{"path": c.FullPath(), "status": status}).
			Error("请求处理失败")
	}
	c.JSON(status, gin.H{"error": service.MessageOf(err)})
}
