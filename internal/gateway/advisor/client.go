package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"booner/internal/logger"
	"booner/internal/metrics"
	"booner/internal/pkg/circuit"
	"booner/internal/pkg/jsonutil"
	"booner/internal/pkg/retry"

	"github.com/tidwall/gjson"
)

var log = logger.For("advisor")

const systemPrompt = `You review trade signals as a devil's advocate.
Reply with a single JSON object: {"pro": [string], "contra": [string], "narrative": string}.
Keep every point under 20 words and the narrative under 60 words. Do not give a score.`

type ClientConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	MaxRetries       int
	FailureThreshold int
	OpenDuration     time.Duration
}

// Client calls an OpenAI-compatible /chat/completions endpoint. Consecutive
// failures open a circuit breaker so the pipeline stops waiting on a dead endpoint.
type Client struct {
	cfg     ClientConfig
	url     string
	httpc   *http.Client
	breaker *circuit.CircuitBreaker
	policy  retry.Policy
	metrics *metrics.Metrics
}

var _ Advisor = (*Client)(nil)

func NewClient(cfg ClientConfig, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 2 * time.Minute
	}
	url := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions") + "/chat/completions"
	return &Client{
		cfg:     cfg,
		url:     url,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		breaker: circuit.NewCircuitBreaker("advisor", cfg.FailureThreshold, cfg.OpenDuration),
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries + 1,
			BaseDelay:   800 * time.Millisecond,
			MaxDelay:    8 * time.Second,
			Multiplier:  2,
		},
		metrics: m,
	}
}

// Breaker exposes the circuit breaker state.
func (c *Client) Breaker() *circuit.CircuitBreaker { return c.breaker }

// statusError is an HTTP failure; 429 and 5xx are retried.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return fmt.Sprintf("status=%d: %s", e.code, e.msg) }

func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return false
}

func (c *Client) Analyze(ctx context.Context, req Request) (Analysis, error) {
	var out Analysis
	err := c.breaker.Do(func() error {
		content, err := c.complete(ctx, req)
		if err != nil {
			return err
		}
		out, err = parseAnalysis(content)
		return err
	})
	if err != nil && !errors.Is(err, circuit.ErrOpen) {
		c.metrics.ObserveAdvisorFailure()
		log.Warnf("analyze %s failed: %v", req.Asset, err)
	}
	return out, err
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]any{
		"model":       c.cfg.Model,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": string(payload)},
		},
	})
	if err != nil {
		return "", err
	}
	var content string
	err = retry.Do(ctx, c.policy, transient, func(attempt int) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		resp, err := c.httpc.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			msg := strings.TrimSpace(gjson.GetBytes(raw, "error.message").String())
			if msg == "" {
				msg = resp.Status
			}
			return &statusError{code: resp.StatusCode, msg: msg}
		}
		res := gjson.GetBytes(raw, "choices.0.message.content")
		if !res.Exists() {
			return fmt.Errorf("advisor response has no choices")
		}
		content = res.String()
		return nil
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return "", exhausted.Err
	}
	return content, err
}

// parseAnalysis reads the model's JSON object, tolerating markdown code fences.
func parseAnalysis(content string) (Analysis, error) {
	content, ok := jsonutil.ExtractObject(content)
	if !ok || !gjson.Valid(content) {
		return Analysis{}, fmt.Errorf("advisor returned non-JSON content")
	}
	doc := gjson.Parse(content)
	out := Analysis{Narrative: strings.TrimSpace(doc.Get("narrative").String())}
	for _, item := range doc.Get("pro").Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out.ProPoints = append(out.ProPoints, s)
		}
	}
	for _, item := range doc.Get("contra").Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out.ContraPoints = append(out.ContraPoints, s)
		}
	}
	return out, nil
}
