package service

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/loaders"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/pipeline"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Ingester 负责一次上传的完整摄取流程。
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// Deleter 删除一个文档及其派生数据。
type Deleter interface {
	Delete(ctx context.Context, documentID string) error
}

// Recommender 根据患者特征生成有依据的建议。
type Recommender interface {
	Recommend(ctx context.Context, features pipeline.PatientFeatures) (*pipeline.Recommendation, error)
}

// Config 是服务层的限制项。
type Config struct {
	MaxUploadBytes int64
	URLExpiry      time.Duration
}

// Deps 汇总服务依赖，Blobs 可以为空。
type Deps struct {
	Ingester    Ingester
	Deleter     Deleter
	Recommender Recommender
	Docs        interfaces.DocStore
	Blobs       interfaces.BlobStore
}

// Service 是 HTTP 层和 RAG 流水线之间的业务门面。
type Service struct {
	deps Deps
	cfg  Config
	log  *logger.Logger
}

// New 创建一个 Service。
func New(deps Deps, cfg Config, log *logger.Logger) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	return &Service{deps: deps, cfg: cfg, log: log}
}

// UploadRequest 是一次协议上传。
type UploadRequest struct {
	Name     string
	Version  string
	Filename string
	Data     []byte
}

// DocumentView 是协议列表中的一项。
type DocumentView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Filename  string    `json:"filename"`
	Version   string    `json:"version,omitempty"`
	PageCount int       `json:"page_count"`
	OCRUsed   bool      `json:"ocr_used"`
	Active    bool      `json:"active"`
	HasFile   bool      `json:"has_file"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentDetail 是单个协议的详情，包括最新的摘要和引用。
type DocumentDetail struct {
	DocumentView
	Summary   string            `json:"summary"`
	Citations []schema.Citation `json:"citations"`
}

// Upload 校验上传文件并运行摄取流水线。
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*pipeline.IngestResult, error) {
	if len(req.Data) == 0 {
		return nil, newError(http.StatusBadRequest, "no file uploaded", nil)
	}
	if int64(len(req.Data)) > s.cfg.MaxUploadBytes {
		return nil, newError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d MB upload limit", s.cfg.MaxUploadBytes>>20), nil)
	}
	if err := loaders.ValidatePDF(req.Data, req.Filename); err != nil {
		return nil, newError(http.StatusUnsupportedMediaType, "only PDF protocols are accepted", err)
	}

	res, err := s.deps.Ingester.Ingest(ctx, pipeline.IngestRequest{
		Name:     req.Name,
		Version:  req.Version,
		Filename: req.Filename,
		Data:     req.Data,
	})
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, pipeline.ErrExtractionFailed):
		return nil, newError(http.StatusBadGateway, "text extraction failed", err)
	case errors.Is(err, pipeline.ErrEmptyDocument):
		return nil, newError(http.StatusUnprocessableEntity, "the document contains no extractable text", err)
	default:
		s.log.WithError(models.NewErrorInfo("ingest_error", err)).Error("上传处理失败")
		return nil, newError(http.StatusInternalServerError, "failed to store the protocol", err)
	}
}

// List 返回全部协议，最新的在前。
func (s *Service) List(ctx context.Context) ([]DocumentView, error) {
	docs, err := s.deps.Docs.ListDocuments(ctx)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "failed to list protocols", err)
	}
	out := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, toView(d))
	}
	return out, nil
}

// Get 返回协议详情。没有摘要的文档返回空摘要。
func (s *Service) Get(ctx context.Context, id string) (*DocumentDetail, error) {
	doc, err := s.document(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &DocumentDetail{DocumentView: toView(*doc), Citations: []schema.Citation{}}

	summary, err := s.deps.Docs.Summary(ctx, id)
	switch {
	case err == nil:
		detail.Summary = summary.Summary
		if summary.Citations != nil {
			detail.Citations = summary.Citations
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, newError(http.StatusInternalServerError, "failed to load the summary", err)
	}
	return detail, nil
}

// FileURL 返回原始文件的限时下载地址。
func (s *Service) FileURL(ctx context.Context, id string) (string, error) {
	doc, err := s.document(ctx, id)
	if err != nil {
		return "", err
	}
	if s.deps.Blobs == nil {
		return "", newError(http.StatusServiceUnavailable, "file storage is not configured", nil)
	}
	if doc.BlobKey == "" {
		return "", newError(http.StatusNotFound, "the original file was not stored", nil)
	}
	url, err := s.deps.Blobs.SignedURL(ctx, doc.BlobKey, s.cfg.URLExpiry)
	if err != nil {
		return "", newError(http.StatusBadGateway, "failed to sign the file URL", err)
	}
	return url, nil
}

// Delete 删除协议及其全部派生数据。
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.deps.Deleter.Delete(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return newError(http.StatusNotFound, "protocol not found", err)
	default:
		return newError(http.StatusInternalServerError, "failed to delete the protocol", err)
	}
}

// Activate 把协议设为默认检索范围。
func (s *Service) Activate(ctx context.Context, id string) error {
	err := s.deps.Docs.SetActive(ctx, id)
	switch {
	case err == nil:
		s.log.WithField("document_id", id).Info("已切换当前协议")
		return nil
	case errors.Is(err, ErrNotFound):
		return newError(http.StatusNotFound, "protocol not found", err)
	default:
		return newError(http.StatusInternalServerError, "failed to activate the protocol", err)
	}
}

// Recommend 只对非法输入和未知文档返回错误，模型问题体现在 Degraded 字段。
func (s *Service) Recommend(ctx context.Context, features pipeline.PatientFeatures) (*pipeline.Recommendation, error) {
	rec, err := s.deps.Recommender.Recommend(ctx, features)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, pipeline.ErrInvalidFeatures):
		return nil, newError(http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, ErrNotFound):
		return nil, newError(http.StatusNotFound, "protocol not found", err)
	default:
		return nil, newError(http.StatusInternalServerError, "failed to generate a recommendation", err)
	}
}

func (s *Service) document(ctx context.Context, id string) (*schema.Document, error) {
	doc, err := s.deps.Docs.GetDocument(ctx, id)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, ErrNotFound):
		return nil, newError(http.StatusNotFound, "protocol not found", err)
	default:
		return nil, newError(http.StatusInternalServerError, "failed to load the protocol", err)
	}
}

func toView(d schema.Document) DocumentView {
	return DocumentView{
		ID:        d.ID,
		Name:      d.Name,
		Filename:  d.OriginalFilename,
		Version:   d.Version,
		PageCount: d.PageCount,
		OCRUsed:   d.OCRUsed,
		Active:    d.Active,
		HasFile:   d.BlobKey != "",
		CreatedAt: d.CreatedAt,
	}
}
