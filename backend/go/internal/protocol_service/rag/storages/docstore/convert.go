package docstore

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"encoding/json"

	"gorm.io/datatypes"
)

func encodeVector(v []float32) datatypes.JSON {
	if len(v) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func decodeVector(raw datatypes.JSON) []float32 {
	if len(raw) == 0 {
		return nil
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func documentToRow(d *schema.Document) models.ProtocolDocument {
	return models.ProtocolDocument{
		ID:               d.ID,
		Name:             d.Name,
		OriginalFilename: d.OriginalFilename,
		Version:          d.Version,
		PageCount:        d.PageCount,
		OCRUsed:          d.OCRUsed,
		Active:           d.Active,
		ContentHash:      d.ContentHash,
		BlobKey:          d.BlobKey,
		Embedding:        encodeVector(d.Embedding),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func documentFromRow(r models.ProtocolDocument) schema.Document {
	return schema.Document{
		ID:               r.ID,
		Name:             r.Name,
		OriginalFilename: r.OriginalFilename,
		Version:          r.Version,
		PageCount:        r.PageCount,
		OCRUsed:          r.OCRUsed,
		Active:           r.Active,
		ContentHash:      r.ContentHash,
		BlobKey:          r.BlobKey,
		Embedding:        decodeVector(r.Embedding),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func sectionFromRow(r models.ProtocolSection) schema.Section {
	return schema.Section{
		Title:       r.Title,
		StartOffset: r.StartOffset,
		PageNumber:  r.PageNumber,
		Embedding:   decodeVector(r.Embedding),
	}
}

func chunkToRow(c schema.Chunk) models.ProtocolChunk {
	page := c.PageNumber
	if page < 1 {
		page = 1
	}
	return models.ProtocolChunk{
		DocumentID:   c.DocumentID,
		ChunkIndex:   c.Index,
		Content:      c.Text,
		StartOffset:  c.StartOffset,
		EndOffset:    c.EndOffset,
		PageNumber:   page,
		PageResolved: c.PageResolved,
		SectionTitle: c.SectionTitle,
		Summary:      c.Summary,
		Embedding:    encodeVector(c.Embedding),
	}
}

func chunkFromModel(r models.ProtocolChunk) schema.Chunk {
	return schema.Chunk{
		DocumentID:   r.DocumentID,
		Index:        r.ChunkIndex,
		Text:         r.Content,
		StartOffset:  r.StartOffset,
		EndOffset:    r.EndOffset,
		PageNumber:   r.PageNumber,
		PageResolved: r.PageResolved,
		SectionTitle: r.SectionTitle,
		Summary:      r.Summary,
		Embedding:    decodeVector(r.Embedding),
	}
}

func summaryFromRow(r models.ProtocolSummary) schema.StoredSummary {
	var cites []schema.Citation
	if len(r.Citations) > 0 {
		_ = json.Unmarshal(r.Citations, &cites)
	}
	return schema.StoredSummary{
		DocumentID:  r.DocumentID,
		ContentHash: r.ContentHash,
		Summary:     r.Summary,
		Citations:   cites,
		Cached:      r.Cached,
		CreatedAt:   r.CreatedAt,
	}
}

func marshalJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
