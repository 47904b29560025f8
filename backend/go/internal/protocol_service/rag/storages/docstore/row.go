package docstore

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyRow is returned by ChunkFromRow when a row carries no chunk text.
var ErrEmptyRow = errors.New("row has no chunk text")

// ChunkFromRow maps a loosely typed row (raw SQL scans, nearest-neighbour query
// output, imported fixtures) onto a Chunk. Several historical column names are
// accepted for each field.
func ChunkFromRow(row map[string]any) (schema.Chunk, error) {
	text := firstString(row, "content", "chunk_text", "text")
	if strings.TrimSpace(text) == "" {
		return schema.Chunk{}, ErrEmptyRow
	}

	c := schema.Chunk{
		DocumentID:   firstString(row, "document_id", "protocol_id", "doc_id"),
		Text:         text,
		SectionTitle: firstString(row, "section", "section_title"),
		Summary:      firstString(row, "summary", "chunk_summary"),
	}
	if v, ok := firstInt(row, "chunk_index", "index"); ok {
		c.Index = v
	}
	if v, ok := firstInt(row, "start_offset", "start"); ok {
		c.StartOffset = v
	}
	if v, ok := firstInt(row, "end_offset", "end"); ok {
		c.EndOffset = v
	}
	if v, ok := firstInt(row, "page", "page_number"); ok && v >= 1 {
		c.PageNumber, c.PageResolved = v, true
	} else {
		c.PageNumber = 1
	}
	if c.SectionTitle == "" {
		c.SectionTitle = schema.UncategorizedSection
	}

	if raw, ok := row["embedding"]; ok && raw != nil {
		vec, err := toVector(raw)
		if err != nil {
			return schema.Chunk{}, fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		c.Embedding = vec
	}
	return c, nil
}

func firstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := row[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case []byte:
			if len(v) > 0 {
				return string(v)
			}
		}
	}
	return ""
}

func firstInt(row map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	case []byte:
		i, err := strconv.Atoi(strings.TrimSpace(string(n)))
		return i, err == nil
	}
	return 0, false
}

func toVector(v any) ([]float32, error) {
	switch e := v.(type) {
	case []float32:
		return e, nil
	case []float64:
		out := make([]float32, len(e))
		for i, x := range e {
			out[i] = float32(x)
		}
		return out, nil
	case []any:
		out := make([]float32, len(e))
		for i, x := range e {
			switch f := x.(type) {
			case float64:
				out[i] = float32(f)
			case float32:
				out[i] = f
			case int:
				out[i] = float32(f)
			case json.Number:
				g, err := f.Float64()
				if err != nil {
					return nil, fmt.Errorf("embedding element %d: %w", i, err)
				}
				out[i] = float32(g)
			default:
				return nil, fmt.Errorf("embedding element %d has type %T", i, x)
			}
		}
		return out, nil
	case string:
		return parseVectorJSON([]byte(e))
	case []byte:
		return parseVectorJSON(e)
	case json.RawMessage:
		return parseVectorJSON(e)
	}
	return nil, fmt.Errorf("unsupported embedding type %T", v)
}

func parseVectorJSON(raw []byte) ([]float32, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("embedding is not a JSON array: %w", err)
	}
	return out, nil
}
