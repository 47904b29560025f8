package embeddings

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/pkg/logger"
	"ckd-decision-support/backend/go/pkg/ratelimiter"
	"ckd-decision-support/backend/go/pkg/util"
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultCallTimeout = 120 * time.Second
)

// Client wraps an EmbeddingModel with retry, per-call timeouts and long-text averaging.
// A nil vector from Embed or EmbedLarge means "no signal"; callers never see an error.
type Client struct {
	model       interfaces.EmbeddingModel
	log         *logger.Logger
	limiter     ratelimiter.Waiter
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the attempt bound and the fixed delay between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// WithCallTimeout bounds every individual embedding call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithRateLimiter paces outbound calls. Waiting counts against the caller's context,
// not the per-call timeout.
func WithRateLimiter(l ratelimiter.Waiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a Client around model.
func NewClient(model interfaces.EmbeddingModel, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		model:       model,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns the vector for text, or nil when text is blank or every attempt failed.
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		vec, err := c.call(ctx, text)
		if err == nil && len(vec) > 0 {
			return vec
		}
		if err == nil {
			err = fmt.Errorf("empty embedding returned")
		}
		lastErr = err

		if attempt == c.maxAttempts || ctx.Err() != nil {
			break
		}
		if !sleep(ctx, c.backoff) {
			break
		}
	}

	c.log.WithError(models.NewErrorInfo("embedding_error", lastErr)).
		WithPayload(map[string]interface{}{"text_length": len([]rune(text)), "attempts": c.maxAttempts}).
		Warn("embedding failed after retries")
	return nil
}

// EmbedLarge splits text into sliceSize-rune slices, embeds them with at most
// concurrency calls in flight and returns the element-wise mean of the slices
// that succeeded. It returns nil only when every slice failed.
func (c *Client) EmbedLarge(ctx context.Context, text string, sliceSize, concurrency int) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if sliceSize <= 0 || len(runes) <= sliceSize {
		return c.Embed(ctx, text)
	}

	var slices []string
	for start := 0; start < len(runes); start += sliceSize {
		end := start + sliceSize
		if end > len(runes) {
			end = len(runes)
		}
		slices = append(slices, string(runes[start:end]))
	}

	vecs, err := util.MapBounded(ctx, slices, concurrency, func(ctx context.Context, _ int, s string) ([]float32, error) {
		return c.Embed(ctx, s), nil
	})
	if err != nil {
		return nil
	}
	return Mean(vecs)
}

func (c *Client) call(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.model.Embed(callCtx, text)
}

// Mean returns the element-wise mean of the non-empty vectors. Vectors whose
// dimension differs from the first non-empty one are ignored.
func Mean(vecs [][]float32) []float32 {
	var sum []float64
	n := 0
	for _, v := range vecs {
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i, s := range sum {
		out[i] = float32(s / float64(n))
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
