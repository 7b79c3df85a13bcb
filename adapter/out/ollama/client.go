// Package ollama implements the inference port against a local Ollama
// server's generate API.
package ollama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"mailmind/core/port/out"
	"mailmind/pkg/apperr"
	"mailmind/pkg/httputil"
)

// Config holds connection and timeout tuning for the Ollama client.
type Config struct {
	Host  string
	Model string

	// BaseTimeout is the floor for one generation; TimeoutPerKB is added for
	// every KB of prompt, since prompt processing dominates on local models.
	BaseTimeout  time.Duration
	TimeoutPerKB time.Duration
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Client is a stateless single request/response Ollama caller. A circuit
// breaker wraps every call so a hung or dead server fails fast instead of
// stacking up long generation timeouts.
type Client struct {
	http *http.Client
	cfg  Config
	cb   *gobreaker.CircuitBreaker
	log  zerolog.Logger
}

// New creates a client for the Ollama server at cfg.Host.
func New(cfg Config, log zerolog.Logger) *Client {
	logger := log.With().Str("component", "ollama").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "ollama",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Client{
		http: httputil.NewClient(httputil.OllamaClientConfig()),
		cfg:  cfg,
		cb:   gobreaker.NewCircuitBreaker(cbSettings),
		log:  logger,
	}
}

// timeoutFor scales the request deadline with prompt size.
func (c *Client) timeoutFor(prompt string) time.Duration {
	base := c.cfg.BaseTimeout
	if base <= 0 {
		base = 60 * time.Second
	}
	perKB := c.cfg.TimeoutPerKB
	if perKB < 0 {
		perKB = 0
	}
	return base + time.Duration(len(prompt)/1024)*perKB
}

// Generate runs one generation with stream disabled and returns the raw
// response text. Failures carry apperr codes distinguishing timeout,
// transport, upstream rejection, and open circuit.
func (c *Client) Generate(ctx context.Context, prompt string, opts out.GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumCtx:      opts.ContextTokens,
			NumPredict:  opts.MaxOutputTokens,
			Temperature: opts.Temperature,
		},
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInferenceTransport, "encode generate request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(prompt))
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		return c.doGenerate(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", apperr.CircuitOpen(err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *Client) doGenerate(ctx context.Context, body []byte) (string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", apperr.InferenceTransport(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.InferenceTimeout(err)
		}
		return "", apperr.InferenceTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", apperr.InferenceUpstream(resp.StatusCode, string(msg))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperr.InferenceTransport(fmt.Errorf("decode generate response: %w", err))
	}

	c.log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("responseLen", len(decoded.Response)).
		Msg("generation complete")
	return decoded.Response, nil
}

// Ping checks server reachability via the model listing endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return apperr.InferenceTransport(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.InferenceTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.InferenceUpstream(resp.StatusCode, "")
	}
	return nil
}
