package http

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"mailmind/adapter/in/worker"
	"mailmind/adapter/out/store"
	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/cache"
	"mailmind/core/service/extract"
)

type stubMail struct {
	messages map[string]string // id → body
}

func (s *stubMail) GetMessage(_ context.Context, id string) (*domain.MailMessage, error) {
	if _, ok := s.messages[id]; !ok {
		return nil, out.ErrMessageNotFound
	}
	return &domain.MailMessage{ID: id, Subject: "s", From: "a@example.com", ReceivedAt: time.Now()}, nil
}

func (s *stubMail) GetFullBody(_ context.Context, id string) (string, error) {
	body, ok := s.messages[id]
	if !ok {
		return "", out.ErrMessageNotFound
	}
	return body, nil
}

func (s *stubMail) QueryFolders(context.Context) ([]*domain.Folder, error) { return nil, nil }
func (s *stubMail) QueryMessages(context.Context, string, time.Time) (*domain.MessagePage, error) {
	return &domain.MessagePage{}, nil
}
func (s *stubMail) ContinuePage(context.Context, string) (*domain.MessagePage, error) {
	return &domain.MessagePage{}, nil
}

type stubSettings struct{}

func (stubSettings) Get(context.Context) (domain.Settings, error) {
	return domain.Settings{Enabled: true, CacheTTLDays: 14}, nil
}
func (stubSettings) Watch(func(domain.SettingsChange)) {}
func (stubSettings) Close() error                      { return nil }

type stubLLM struct {
	response string
	pingErr  error
}

func (s *stubLLM) Generate(context.Context, string, out.GenerateOptions) (string, error) {
	return s.response, nil
}
func (s *stubLLM) Ping(context.Context) error { return s.pingErr }

func newTestApp(t *testing.T) (*fiber.App, *cache.ResultCache, *stubLLM) {
	t.Helper()
	mail := &stubMail{messages: map[string]string{
		"m1": "a long enough email body to analyze",
	}}
	llm := &stubLLM{response: `{"summary":"analyzed"}`}
	resultCache := cache.New(store.NewMemoryStore(), mail, cache.Config{L1MaxItems: 16, L1TTL: time.Minute}, zerolog.Nop())

	processor := worker.NewProcessor(
		context.Background(),
		worker.ProcessorConfig{MinBodyLength: 10, BackfillDays: 14},
		worker.QueueConfig{},
		worker.NewClock(),
		resultCache,
		mail,
		extract.New(llm, zerolog.Nop()),
		stubSettings{},
		zerolog.Nop(),
	)

	app := fiber.New()
	NewHandler(processor, resultCache, llm).Register(app)
	return app, resultCache, llm
}

func decodeBody(t *testing.T, resp io.Reader, dest any) {
	t.Helper()
	if err := json.NewDecoder(resp).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	app, _, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestReadyReportsInferenceDown(t *testing.T) {
	app, _, llm := newTestApp(t)
	llm.pingErr = context.DeadlineExceeded

	resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAnalyzeAndGetResult(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/analyze/m1", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("analyze status = %d", resp.StatusCode)
	}
	var result domain.Extraction
	decodeBody(t, resp.Body, &result)
	if result.Summary != "analyzed" {
		t.Errorf("Summary = %q", result.Summary)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/results/m1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("results status = %d", resp.StatusCode)
	}
}

func TestAnalyzeUnknownMessage(t *testing.T) {
	app, _, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("POST", "/v1/analyze/ghost", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetResultMiss(t *testing.T) {
	app, _, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/v1/results/nope", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsAndCachePurge(t *testing.T) {
	app, resultCache, _ := newTestApp(t)
	ctx := context.Background()
	resultCache.Set(ctx, "m1", &domain.Extraction{Summary: "s"})
	resultCache.Set(ctx, "m2", &domain.Extraction{Summary: "s"})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	var stats struct {
		Cache cache.Stats `json:"cache"`
	}
	decodeBody(t, resp.Body, &stats)
	if stats.Cache.Count != 2 {
		t.Errorf("cache count = %d, want 2", stats.Cache.Count)
	}

	resp, err = app.Test(httptest.NewRequest("DELETE", "/v1/cache", nil))
	if err != nil {
		t.Fatal(err)
	}
	var purged struct {
		Cleared int `json:"cleared"`
	}
	decodeBody(t, resp.Body, &purged)
	if purged.Cleared != 2 {
		t.Errorf("cleared = %d, want 2", purged.Cleared)
	}
}

func TestQueueControl(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/queue/stop", nil))
	if err != nil {
		t.Fatal(err)
	}
	var state struct {
		State worker.State `json:"state"`
	}
	decodeBody(t, resp.Body, &state)
	if state.State != worker.StateDisabled {
		t.Errorf("state after stop = %s", state.State)
	}

	resp, err = app.Test(httptest.NewRequest("POST", "/v1/queue/start", nil))
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, resp.Body, &state)
	if state.State != worker.StateIdle {
		t.Errorf("state after start = %s", state.State)
	}
}
