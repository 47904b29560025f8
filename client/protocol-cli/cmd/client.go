package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// protocol mirrors the document view returned by the service.
type protocol struct {
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

type citation struct {
	Page       int    `json:"page"`
	URL        string `json:"url"`
	ChunkIndex int    `json:"chunk_index"`
	Snippet    string `json:"snippet"`
}

type protocolDetail struct {
	protocol
	Summary   string     `json:"summary"`
	Citations []citation `json:"citations"`
}

type uploadResult struct {
	DocumentID string     `json:"document_id"`
	Summary    string     `json:"summary"`
	Citations  []citation `json:"citations"`
	Cached     bool       `json:"cached"`
	ChunkCount int        `json:"chunk_count"`
	PageCount  int        `json:"page_count"`
	OCRUsed    bool       `json:"ocr_used"`
}

type patientFeatures struct {
	Age          int      `json:"age,omitempty"`
	Sex          string   `json:"sex,omitempty"`
	EGFR         *float64 `json:"egfr,omitempty"`
	ACR          *float64 `json:"acr,omitempty"`
	Creatinine   *float64 `json:"creatinine,omitempty"`
	Diabetes     bool     `json:"diabetes,omitempty"`
	Hypertension bool     `json:"hypertension,omitempty"`
	Medications  []string `json:"medications,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
}

type evidence struct {
	Page    int    `json:"page"`
	Link    string `json:"link"`
	Section string `json:"section"`
	Quote   string `json:"quote"`
}

type recommendation struct {
	DocumentID     string     `json:"document_id"`
	Query          string     `json:"query"`
	Recommendation string     `json:"recommendation"`
	Investigations []string   `json:"investigations"`
	Treatment      []string   `json:"treatment"`
	Rationale      string     `json:"rationale"`
	Evidence       []evidence `json:"evidence"`
	Dropped        int        `json:"dropped_evidence"`
	Degraded       bool       `json:"degraded"`
}

// apiError is a non-2xx answer from the service.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// apiClient talks to the protocol service REST API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Upload sends a file as multipart/form-data. The service answers 200 instead of 201
// when the summary came from the cache; both decode into the same result.
func (c *apiClient) Upload(ctx context.Context, path, name, version string) (*uploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if name != "" {
		_ = w.WriteField("name", name)
	}
	if version != "" {
		_ = w.WriteField("version", version)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/protocols", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var res uploadResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) List(ctx context.Context) ([]protocol, error) {
	var out struct {
		Protocols []protocol `json:"protocols"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/protocols", nil, &out); err != nil {
		return nil, err
	}
	return out.Protocols, nil
}

func (c *apiClient) Get(ctx context.Context, id string) (*protocolDetail, error) {
	var out protocolDetail
	if err := c.call(ctx, http.MethodGet, "/api/v1/protocols/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) FileURL(ctx context.Context, id string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/protocols/"+id+"/file", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *apiClient) Delete(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/protocols/"+id, nil, nil)
}

func (c *apiClient) Activate(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/protocols/"+id+"/activate", nil, nil)
}

func (c *apiClient) Recommend(ctx context.Context, f patientFeatures) (*recommendation, error) {
	var out recommendation
	if err := c.call(ctx, http.MethodPost, "/api/v1/recommendations", f, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
