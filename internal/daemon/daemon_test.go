package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/budget"
	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/consult"
	"github.com/leandrotocalini/SecondOpinion/internal/ledger"
	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/toolloop"
)

type scriptedCaller struct {
	responses []*llm.CallResult
	calls     int
}

func (c *scriptedCaller) Call(_ context.Context, _ llm.CallRequest) (*llm.CallResult, error) {
	if c.calls >= len(c.responses) {
		return nil, fmt.Errorf("no more responses configured")
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedCaller) Name() string { return "scripted" }

type erroringCaller struct {
	err error
}

func (c *erroringCaller) Call(_ context.Context, _ llm.CallRequest) (*llm.CallResult, error) {
	return nil, c.err
}

func (c *erroringCaller) Name() string { return "erroring" }

// staticResolver hands the same caller to every model.
type staticResolver struct {
	caller llm.Caller
}

func (r staticResolver) ForModel(llm.ModelConfig) (llm.Caller, error) {
	return r.caller, nil
}

func noSleep(_ context.Context, _ time.Duration) {}

// newTestDaemon wires a daemon whose consultant answers from the given
// caller, served over httptest.
func newTestDaemon(t *testing.T, caller llm.Caller, opts ...Option) (*Daemon, *httptest.Server, *slog.Logger) {
	t.Helper()
	cfg := config.Default()
	handler := NewLogHandler(io.Discard, slog.LevelDebug, 100)
	logger := slog.New(handler)

	consultant := consult.New(cfg, staticResolver{caller: caller},
		consult.WithLogger(logger),
		consult.WithLoopOptions(toolloop.WithSleepFunc(noSleep)),
	)

	d := New(cfg, consultant, handler, append([]Option{WithVersion("test")}, opts...)...)
	srv := httptest.NewServer(d.routes())
	t.Cleanup(srv.Close)
	return d, srv, logger
}

func postConsult(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/consult", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleConsult_Success(t *testing.T) {
	caller := &scriptedCaller{responses: []*llm.CallResult{
		{Content: "Shard by tenant.", InputTokens: 12, OutputTokens: 7, CostCents: 2},
	}}
	_, srv, _ := newTestDaemon(t, caller)

	resp := postConsult(t, srv.URL, `{"question":"How should we partition the data?","tier":"standard"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var res consult.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.FinalContent != "Shard by tenant." {
		t.Errorf("unexpected content %q", res.FinalContent)
	}
	if string(res.Tier) != "standard" {
		t.Errorf("expected standard tier, got %s", res.Tier)
	}
	if res.ID == "" {
		t.Error("expected a consultation id")
	}
	if res.TotalCostCents != 2 {
		t.Errorf("expected 2 cents, got %d", res.TotalCostCents)
	}
}

func TestHandleConsult_RejectsBadRequests(t *testing.T) {
	caller := &scriptedCaller{responses: []*llm.CallResult{{Content: "unused"}}}
	_, srv, _ := newTestDaemon(t, caller)

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/consult")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"question":`},
		{"empty question", `{"question":"   "}`},
		{"invalid tier", `{"question":"Is this fine?","tier":"turbo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postConsult(t, srv.URL, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestHandleConsult_MapsErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "provider error",
			err:        &llm.ProviderError{Provider: llm.ProviderOpenAI, Model: "m", StatusCode: 500, Body: "oops"},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "rate limit exhausted",
			err:        &llm.RateLimitExceeded{Provider: llm.ProviderAnthropic, Model: "m", Attempts: 2},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "timeout",
			err:        &llm.TimeoutError{Provider: llm.ProviderAnthropic, Model: "m", Elapsed: time.Minute},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "request too large",
			err:        &llm.RequestTooLargeError{EstimatedTokens: 90000, MaxTokens: 25000},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "missing key",
			err:        &llm.ConfigurationError{Provider: llm.ProviderOpenAI},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "daily budget exhausted",
			err:        &budget.Exceeded{LimitCents: 500, SpentCents: 512},
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name:       "anything else",
			err:        fmt.Errorf("wires crossed"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv, _ := newTestDaemon(t, &erroringCaller{err: tt.err})
			resp := postConsult(t, srv.URL, `{"question":"Does the mapping hold?","tier":"standard"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	_, srv, _ := newTestDaemon(t, &scriptedCaller{})

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var status struct {
		Version string            `json:"version"`
		Uptime  string            `json:"uptime"`
		Models  map[string]string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Version != "test" {
		t.Errorf("unexpected version %q", status.Version)
	}
	if status.Uptime == "" {
		t.Error("expected an uptime")
	}
	def := config.Default()
	if status.Models["quick"] != def.Models.Quick.Model {
		t.Errorf("unexpected quick model %q", status.Models["quick"])
	}
	if !strings.Contains(status.Models["deliberate"], def.Models.Deliberation.Review.Model) {
		t.Errorf("deliberate label should name all three models, got %q", status.Models["deliberate"])
	}
}

func TestHandleUsage(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Record(ledger.Entry{
		ID: "c1", Question: "q", Tier: "quick", Model: "m",
		InputTokens: 100, OutputTokens: 50, CostCents: 3,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, srv, _ := newTestDaemon(t, &scriptedCaller{}, WithUsageStore(store))

	resp, err := http.Get(srv.URL + "/api/usage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		Days    int            `json:"days"`
		Summary ledger.Summary `json:"summary"`
		Recent  []ledger.Entry `json:"recent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Days != 30 {
		t.Errorf("expected default 30 days, got %d", out.Days)
	}
	if out.Summary.Consultations != 1 || out.Summary.CostCents != 3 {
		t.Errorf("unexpected summary %+v", out.Summary)
	}
	if len(out.Recent) != 1 || out.Recent[0].ID != "c1" {
		t.Errorf("unexpected recent rows %+v", out.Recent)
	}

	t.Run("bad days", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/usage?days=zero")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestHandleUsage_WithoutStore(t *testing.T) {
	_, srv, _ := newTestDaemon(t, &scriptedCaller{})

	resp, err := http.Get(srv.URL + "/api/usage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleLogs(t *testing.T) {
	_, srv, logger := newTestDaemon(t, &scriptedCaller{})
	logger.Info("warmup complete", "port", 4400)

	resp, err := http.Get(srv.URL + "/api/logs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var lines []logLine
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lines) == 0 {
		t.Fatal("expected at least one log line")
	}
	last := lines[len(lines)-1]
	if !strings.Contains(last.Message, "warmup complete") || !strings.Contains(last.Message, "port=4400") {
		t.Errorf("unexpected log line %+v", last)
	}
	if last.Level != "INFO" {
		t.Errorf("unexpected level %q", last.Level)
	}
}

func TestHandleLogsStream_DeliversEvents(t *testing.T) {
	_, srv, logger := newTestDaemon(t, &scriptedCaller{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/logs/stream", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// Log until the subscriber is attached and an event comes through.
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			select {
			case <-quit:
				return
			case <-time.After(20 * time.Millisecond):
				logger.Info("streamed entry")
			}
		}
	}()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, "streamed entry") {
				t.Errorf("unexpected event %q", line)
			}
			return
		}
	}
	t.Fatal("stream closed before any event arrived")
}

func TestDashboard(t *testing.T) {
	_, srv, _ := newTestDaemon(t, &scriptedCaller{})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	page := string(body)
	if !strings.Contains(page, "SecondOpinion") {
		t.Error("dashboard should carry the service name")
	}
	if !strings.Contains(page, "/api/logs/stream") {
		t.Error("dashboard should wire the SSE stream")
	}
	if !strings.Contains(page, config.Default().Models.Quick.Model) {
		t.Error("dashboard should show the quick model")
	}

	t.Run("unknown path", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/nope")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestListen_ScansDefaultRange(t *testing.T) {
	d, _, _ := newTestDaemon(t, &scriptedCaller{})

	ln, port, err := d.listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if port < portScanFrom || port >= portScanTo {
		t.Errorf("port %d outside scan range", port)
	}
}

func TestListen_PinnedPort(t *testing.T) {
	cfg := config.Default()
	cfg.Daemon.Port = 4499
	handler := NewLogHandler(io.Discard, slog.LevelInfo, 10)
	consultant := consult.New(cfg, staticResolver{caller: &scriptedCaller{}})
	d := New(cfg, consultant, handler)

	ln, port, err := d.listen()
	if err != nil {
		t.Skipf("port 4499 unavailable: %v", err)
	}
	defer ln.Close()
	if port != 4499 {
		t.Errorf("expected pinned port 4499, got %d", port)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	d, _, _ := newTestDaemon(t, &scriptedCaller{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Wait for the listener to come up, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for d.Port() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("daemon never bound a port")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestLogHandler_RingCapsEntries(t *testing.T) {
	h := NewLogHandler(&bytes.Buffer{}, slog.LevelDebug, 3)
	logger := slog.New(h)

	for i := 0; i < 5; i++ {
		logger.Info(fmt.Sprintf("entry %d", i))
	}

	entries := h.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 buffered entries, got %d", len(entries))
	}
	if entries[0].Message != "entry 2" || entries[2].Message != "entry 4" {
		t.Errorf("oldest entries should be dropped: %+v", entries)
	}
}

func TestLogHandler_SubscribeAndUnsubscribe(t *testing.T) {
	h := NewLogHandler(&bytes.Buffer{}, slog.LevelDebug, 10)
	logger := slog.New(h)

	ch := h.Subscribe()
	logger.Warn("breaker open", "model", "gpt-4o")

	select {
	case e := <-ch:
		if e.Level != slog.LevelWarn || !strings.Contains(e.Message, "model=gpt-4o") {
			t.Errorf("unexpected entry %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}

	h.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("unsubscribed channel should be closed")
	}
}

func TestLogHandler_LevelFilterAndAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewLogHandler(buf, slog.LevelInfo, 10)
	logger := slog.New(h).With("component", "daemon")

	logger.Debug("hidden")
	logger.Info("visible")

	entries := h.Entries()
	if len(entries) != 1 {
		t.Fatalf("debug should be filtered at info level, got %d entries", len(entries))
	}
	if !strings.Contains(entries[0].Message, "component=daemon") {
		t.Errorf("With attrs should appear in the message: %q", entries[0].Message)
	}
	if !strings.Contains(buf.String(), "INFO visible") {
		t.Errorf("plain writer output missing: %q", buf.String())
	}
}
