package main

import (
	"ckd-decision-support/backend/go/internal/config"
	"ckd-decision-support/backend/go/internal/database/kafka"
	"ckd-decision-support/backend/go/internal/database/milvus"
	"ckd-decision-support/backend/go/internal/database/minio"
	"ckd-decision-support/backend/go/internal/database/mysql"
	"ckd-decision-support/backend/go/internal/database/redis"
	"ckd-decision-support/backend/go/internal/llm"
	"ckd-decision-support/backend/go/internal/protocol_service/api"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/embeddings"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/hashcache"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/llms"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/loaders"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/pipeline"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/rerankers"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/sectionizer"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/splitters"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/storages/blobstore"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/storages/docstore"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/storages/vectorstore"
	"ckd-decision-support/backend/go/internal/protocol_service/service"
	pkghttp "ckd-decision-support/backend/go/pkg/http"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"
)

const serviceName = "protocol_service"

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	appLogger := logger.New(serviceName, "", "")
	appLogger.Info("Logger initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化 MySQL，文档、分块、摘要和审计都保存在这里
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer mysql.Close()
	docs := docstore.NewGormStore(db)
	appLogger.Info("Database connection established")

	// 补全和向量化模型
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	callTimeout := config.Duration(cfg.RAG.CallTimeout, 120*time.Second)
	completer := llms.NewLLMAdapter(llmClient, callTimeout, cfg.LLM.Temperature, cfg.LLM.MaxTokens)

	embedClient, err := embeddings.NewFromConfig(cfg, appLogger)
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	cache, err := newSummaryCache(cfg, db)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	extractor, err := newExtractor(cfg)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	vectors, closeVectors, err := newVectorStore(ctx, cfg, embedClient, appLogger)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer closeVectors()
	blobs := newBlobStore(cfg, appLogger)
	events, closeEvents := newEventPublisher(cfg, appLogger)
	defer closeEvents()

	// 组装流水线 (Store -> Pipeline -> Service -> Handler)
	rag := cfg.RAG
	embedder := pipeline.NewEmbedder(embedClient, docs, rag.EmbedSliceSize, rag.EmbedConcurrency, appLogger)
	ingestion := pipeline.NewIngestionPipeline(pipeline.IngestionDeps{
		Extractor:   extractor,
		Completer:   completer,
		Sectionizer: sectionizer.New(completer, rag.SectionPrefixLimit, appLogger),
		Splitter:    splitters.NewFixedSplitter(rag.ChunkSize),
		Embedder:    embedder,
		Docs:        docs,
		Cache:       cache,
		Vectors:     vectors,
		Blobs:       blobs,
		Events:      events,
	}, pipeline.IngestionConfig{
		SummaryConcurrency:    rag.SummaryConcurrency,
		SeparatorLength:       rag.PageSeparatorLength,
		FallbackSummaryLength: rag.FinalSummaryFallbackLen,
		ViewerBase:            cfg.App.BaseURL,
	}, appLogger)
	recommendation := pipeline.NewRecommendationPipeline(pipeline.RecommendationDeps{
		Embeddings: embedClient,
		Embedder:   embedder,
		Ranker:     rerankers.NewSectionBoostRanker(embedClient, rag.SectionWeight, rag.TopK, rag.ExcerptLength, cfg.App.BaseURL),
		Completer:  completer,
		Docs:       docs,
		Vectors:    vectors,
		Events:     events,
	}, pipeline.RecommendationConfig{
		Threshold:     rag.SimilarityThreshold,
		CandidatePool: rag.CandidatePool,
		ContextCap:    rag.ContextCap,
		MaxTokens:     cfg.LLM.MaxTokens,
		ViewerBase:    cfg.App.BaseURL,
	}, appLogger)
	deletion := pipeline.NewDeletionPipeline(docs, vectors, blobs, events, appLogger)

	maxUpload := int64(cfg.Server.MaxUploadMB) << 20
	svc := service.New(service.Deps{
		Ingester:    ingestion,
		Deleter:     deletion,
		Recommender: recommendation,
		Docs:        docs,
		Blobs:       blobs,
	}, service.Config{
		MaxUploadBytes: maxUpload,
		URLExpiry:      config.Duration(cfg.Databases.MinIO.URLExpiry, 15*time.Minute),
	}, appLogger)
	handler := api.NewHandler(svc, api.Info{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, maxUpload, appLogger)
	appLogger.Info("Dependencies injected")

	// gin 路由挂到带访问日志、限流和熔断的 HTTP 服务上
	srv, err := pkghttp.NewServer(cfg, pkghttp.WithLogger(appLogger))
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	srv.Handle("/", api.SetupRouter(handler))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Fatal(err.Error())
		}
	case <-ctx.Done():
		appLogger.Info("收到退出信号，正在关闭服务...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(fmt.Sprintf("服务关闭失败: %v", err))
	}
	appLogger.Info("服务已停止")
}

// newSummaryCache 按 cache.backend 选择摘要缓存。
func newSummaryCache(cfg *config.AppConfig, db *gorm.DB) (interfaces.SummaryCache, error) {
	ttl := config.Duration(cfg.Cache.TTL, 0)
	switch cfg.Cache.Backend {
	case "mysql":
		return hashcache.NewGormStore(db), nil
	case "redis":
		rdb, err := redis.GetClient(&cfg.Databases.Redis)
		if err != nil {
			return nil, err
		}
		return hashcache.NewRedisStore(rdb, ttl), nil
	case "memory":
		return hashcache.NewMemoryStore(cfg.Cache.Capacity, ttl)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// newExtractor 按 extraction.provider 选择远程 OCR 服务或本地 PDF 解析。
func newExtractor(cfg *config.AppConfig) (interfaces.Extractor, error) {
	switch cfg.Extraction.Provider {
	case "remote":
		if cfg.Extraction.BaseURL == "" {
			return nil, fmt.Errorf("extraction.baseURL is required for the remote provider")
		}
		client, err := pkghttp.NewClient(cfg.Extraction.CircuitBreaker, config.Duration(cfg.Extraction.Timeout, 120*time.Second))
		if err != nil {
			return nil, err
		}
		return loaders.NewRemoteExtractor(cfg.Extraction.BaseURL, client), nil
	case "local":
		return loaders.NewLocalPDFExtractor(), nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", cfg.Extraction.Provider)
	}
}

// newVectorStore 按 vectorIndex.backend 创建近邻索引。"none" 时检索只走本地回退扫描。
func newVectorStore(ctx context.Context, cfg *config.AppConfig, emb *embeddings.Client, log *logger.Logger) (interfaces.VectorStore, func(), error) {
	noop := func() {}
	switch cfg.VectorIndex.Backend {
	case "none":
		log.Warn("未配置向量索引，检索将使用本地回退扫描")
		return nil, noop, nil
	case "chromem":
		db, err := vectorstore.OpenChromem(cfg.VectorIndex.Path)
		if err != nil {
			return nil, noop, err
		}
		store, err := vectorstore.NewChromemStore(db, "protocol_chunks")
		return store, noop, err
	case "milvus":
		mcfg := &cfg.Databases.Milvus
		if len(mcfg.Schema.Fields) == 0 {
			// 没有配置字段时按 embedding.dimensions 建集合，未配置则探测模型的实际输出维度。
			dim := cfg.Embedding.Dimensions
			if dim <= 0 {
				dim = len(emb.Embed(ctx, "chronic kidney disease"))
			}
			if dim == 0 {
				return nil, noop, fmt.Errorf("could not determine the embedding dimension for milvus")
			}
			name := mcfg.Schema.CollectionName
			if name == "" {
				name = "protocol_chunks"
			}
			mcfg.Schema = milvus.DefaultChunkSchema(name, dim)
		}
		client, err := milvus.GetClient(ctx, mcfg)
		if err != nil {
			return nil, noop, err
		}
		if err := client.EnsureCollection(ctx); err != nil {
			client.Close()
			return nil, noop, err
		}
		store, err := vectorstore.NewMilvusStore(client, log)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported vector index backend: %s", cfg.VectorIndex.Backend)
	}
}

// newBlobStore 在配置了 MinIO 时保存上传原文件，否则只保留内存副本。
func newBlobStore(cfg *config.AppConfig, log *logger.Logger) interfaces.BlobStore {
	if cfg.Databases.MinIO.Endpoint == "" {
		log.Warn("未配置 MinIO，原文件只保存在进程内存中")
		return blobstore.NewMemoryStore(cfg.App.BaseURL)
	}
	client, err := minio.GetClient(&cfg.Databases.MinIO)
	if err != nil {
		log.Fatal(err.Error())
	}
	return blobstore.NewMinioStore(client, cfg.Databases.MinIO.Bucket)
}

// newEventPublisher 创建审计事件发布器。Kafka 不可用时事件被丢弃，不影响主流程。
func newEventPublisher(cfg *config.AppConfig, log *logger.Logger) (interfaces.EventPublisher, func()) {
	if len(cfg.Databases.Kafka.Brokers) == 0 {
		return nil, func() {}
	}
	client, err := kafka.GetClient(&cfg.Databases.Kafka)
	if err != nil {
		log.Warn(fmt.Sprintf("Kafka 不可用，审计事件将被丢弃: %v", err))
		return nil, func() {}
	}
	publisher := kafka.NewEventPublisher(client, serviceName)
	return publisher, func() {
		_ = publisher.Close()
		_ = client.Close()
	}
}
