package milvus

import (
	"ckd-decision-support/backend/go/internal/config"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// 协议分块集合使用的字段名。
const (
	FieldChunkID    = "chunk_id"
	FieldDocumentID = "document_id"
	FieldChunkIndex = "chunk_index"
	FieldPage       = "page_number"
	FieldEmbedding  = "embedding"
)

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// MilvusClient 包含了 Milvus 客户端实例和相关配置。
type MilvusClient struct {
	Client client.Client
	Config *config.MilvusConfig
}

// GetClient 使用单例模式创建并返回一个 Milvus 客户端实例。
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 Milvus: %w", err)
			return
		}
		log.Println("✅ 成功连接到 Milvus!")
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// Close 安全地关闭与 Milvus 的连接。
func (c *MilvusClient) Close() {
	if c.Client != nil {
		c.Client.Close()
		log.Println("ℹ️ 已安全关闭 Milvus 连接。")
	}
}

// HealthCheck 检查 Milvus 连接的健康状况。
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("Milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

// VectorDim 返回配置中向量字段的维度，未配置时返回 0。
func (c *MilvusClient) VectorDim() int {
	for _, f := range c.Config.Schema.Fields {
		if f.Name == c.Config.Schema.VectorField && f.Dim > 0 {
			return f.Dim
		}
	}
	return 0
}

// DefaultChunkSchema 返回协议分块集合的默认 Schema 配置。
// 配置文件没有列出字段时使用它，dim 必须与向量化模型的输出维度一致。
func DefaultChunkSchema(collection string, dim int) config.SchemaConfig {
	return config.SchemaConfig{
		CollectionName: collection,
		Description:    "clinical protocol chunks",
		VectorField:    FieldEmbedding,
		Fields: []config.FieldConfig{
			{Name: FieldChunkID, DataType: "VarChar", IsPrimaryKey: true, MaxLength: 96},
			{Name: FieldDocumentID, DataType: "VarChar", MaxLength: 64},
			{Name: FieldChunkIndex, DataType: "Int64"},
			{Name: FieldPage, DataType: "Int64"},
			{Name: FieldEmbedding, DataType: "FloatVector", Dim: dim},
		},
		Index: config.IndexConfig{
			FieldName:  FieldEmbedding,
			IndexType:  "IVF_FLAT",
			MetricType: string(entity.COSINE),
			Params:     map[string]interface{}{"nlist": 128},
		},
	}
}

// EnsureCollection 确保 Milvus 集合存在、索引已建立并已加载到内存。
func (c *MilvusClient) EnsureCollection(ctx context.Context) error {
	collName := c.Config.Schema.CollectionName
	exists, err := c.Client.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	if !exists {
		schema, err := c.buildSchemaFromConfig()
		if err != nil {
			return err
		}
		if err := c.Client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("创建集合失败: %w", err)
		}
		idx, err := c.buildIndexFromConfig()
		if err != nil {
			return err
		}
		if err := c.Client.CreateIndex(ctx, collName, c.Config.Schema.Index.FieldName, idx, false); err != nil {
			return fmt.Errorf("为字段 '%s' 创建索引失败: %w", c.Config.Schema.Index.FieldName, err)
		}
		log.Printf("✅ 已创建 Milvus 集合: %s", collName)
	}

	if err := c.Client.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", collName, err)
	}
	return nil
}

func (c *MilvusClient) buildSchemaFromConfig() (*entity.Schema, error) {
	schema := entity.NewSchema().
		WithName(c.Config.Schema.CollectionName).
		WithDescription(c.Config.Schema.Description)

	for _, fieldCfg := range c.Config.Schema.Fields {
		field := entity.NewField().WithName(fieldCfg.Name)
		if fieldCfg.IsPrimaryKey {
			field = field.WithIsPrimaryKey(true)
		}
		if fieldCfg.IsAutoID {
			field = field.WithIsAutoID(true)
		}

		switch fieldCfg.DataType {
		case "Int64":
			field = field.WithDataType(entity.FieldTypeInt64)
		case "VarChar":
			field = field.WithDataType(entity.FieldTypeVarChar).WithMaxLength(int64(fieldCfg.MaxLength))
		case "FloatVector":
			if fieldCfg.Dim <= 0 {
				return nil, fmt.Errorf("向量字段 '%s' 未配置维度", fieldCfg.Name)
			}
			field = field.WithDataType(entity.FieldTypeFloatVector).WithDim(int64(fieldCfg.Dim))
		case "Float":
			field = field.WithDataType(entity.FieldTypeFloat)
		case "Bool":
			field = field.WithDataType(entity.FieldTypeBool)
		default:
			return nil, fmt.Errorf("不支持的数据类型: %s", fieldCfg.DataType)
		}
		schema = schema.WithField(field)
	}
	return schema, nil
}

// buildIndexFromConfig 从配置构建索引实体，未指定度量类型时使用 COSINE。
func (c *MilvusClient) buildIndexFromConfig() (entity.Index, error) {
	indexCfg := c.Config.Schema.Index
	metricType := entity.MetricType(indexCfg.MetricType)
	if metricType == "" {
		metricType = entity.COSINE
	}

	intParam := func(name string, def int) int {
		switch v := indexCfg.Params[name].(type) {
		case int:
			return v
		case float64:
			return int(v)
		default:
			return def
		}
	}

	switch indexCfg.IndexType {
	case "", "IVF_FLAT":
		return entity.NewIndexIvfFlat(metricType, intParam("nlist", 128))
	case "HNSW":
		return entity.NewIndexHNSW(metricType, intParam("M", 8), intParam("efConstruction", 96))
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(metricType)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", indexCfg.IndexType)
	}
}
