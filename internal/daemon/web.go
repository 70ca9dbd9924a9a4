package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/budget"
	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/consult"
	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

func (d *Daemon) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleDashboard)
	mux.HandleFunc("/v1/consult", d.handleConsult)
	mux.HandleFunc("/api/status", d.handleStatus)
	mux.HandleFunc("/api/usage", d.handleUsage)
	mux.HandleFunc("/api/logs", d.handleLogs)
	mux.HandleFunc("/api/logs/stream", d.handleLogsStream)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (d *Daemon) handleConsult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req consult.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	if req.Tier != "" && !req.Tier.Valid() {
		http.Error(w, fmt.Sprintf("invalid tier %q", req.Tier), http.StatusBadRequest)
		return
	}

	res, err := d.consultant.Consult(r.Context(), req)
	if err != nil {
		d.logger.Error("consultation failed", "error", err)
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, res)
}

// errorStatus maps the consultation error taxonomy onto HTTP statuses.
func errorStatus(err error) int {
	var (
		tooLarge     *llm.RequestTooLargeError
		rateLimited  *llm.RateLimitExceeded
		timedOut     *llm.TimeoutError
		upstream     *llm.ProviderError
		unconfigured *llm.ConfigurationError
		overBudget   *budget.Exceeded
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &overBudget):
		return http.StatusPaymentRequired
	case errors.As(err, &timedOut):
		return http.StatusGatewayTimeout
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.As(err, &unconfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := d.snapshot()
	writeJSON(w, map[string]any{
		"version": d.version,
		"uptime":  time.Since(d.startTime).Round(time.Second).String(),
		"port":    d.Port(),
		"models": map[string]string{
			"quick":      cfg.Models.Quick.Model,
			"standard":   cfg.Models.Standard.Model,
			"deliberate": deliberationLabel(cfg),
		},
	})
}

func deliberationLabel(cfg *config.Config) string {
	del := cfg.Models.Deliberation
	return fmt.Sprintf("%s / %s / %s", del.Primary.Model, del.Review.Model, del.Synthesizer.Model)
}

func (d *Daemon) handleUsage(w http.ResponseWriter, r *http.Request) {
	if d.usage == nil {
		http.Error(w, "usage ledger not configured", http.StatusNotFound)
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	summary, err := d.usage.SummarySince(time.Now().AddDate(0, 0, -days))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	recent, err := d.usage.Recent(20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"days": days, "summary": summary, "recent": recent})
}

type logLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func toLogLine(e LogEntry) logLine {
	return logLine{
		Time:    e.Time.Format("15:04:05"),
		Level:   e.Level.String(),
		Message: e.Message,
	}
}

func (d *Daemon) handleLogs(w http.ResponseWriter, _ *http.Request) {
	entries := d.handler.Entries()
	out := make([]logLine, len(entries))
	for i, e := range entries {
		out[i] = toLogLine(e)
	}
	writeJSON(w, out)
}

// handleLogsStream sends new log entries as Server-Sent Events.
func (d *Daemon) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := d.handler.Subscribe()
	defer d.handler.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			data, _ := json.Marshal(toLogLine(entry))
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (d *Daemon) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	cfg := d.snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
<title>SecondOpinion</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "SF Mono", monospace; background: #0d1117; color: #c9d1d9; padding: 20px; }
  h1 { font-size: 1.3em; margin-bottom: 16px; color: #58a6ff; }
  .status { display: flex; gap: 24px; margin-bottom: 20px; flex-wrap: wrap; }
  .badge { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 12px 16px; }
  .badge .label { font-size: 0.75em; color: #8b949e; text-transform: uppercase; margin-bottom: 4px; }
  .badge .value { font-size: 1.1em; }
  #logs { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; height: calc(100vh - 200px); overflow-y: auto; font-size: 0.85em; line-height: 1.6; }
  .log-line { white-space: pre-wrap; word-break: break-all; }
  .log-INFO { color: #c9d1d9; }
  .log-WARN { color: #d29922; }
  .log-ERROR { color: #f85149; }
  .log-DEBUG { color: #8b949e; }
</style>
</head>
<body>
<h1>SecondOpinion</h1>
<div class="status">
  <div class="badge"><div class="label">Version</div><div class="value" id="version">-</div></div>
  <div class="badge"><div class="label">Uptime</div><div class="value" id="uptime">-</div></div>
  <div class="badge"><div class="label">Quick</div><div class="value">%s</div></div>
  <div class="badge"><div class="label">Standard</div><div class="value">%s</div></div>
  <div class="badge"><div class="label">Deliberate</div><div class="value">%s</div></div>
</div>
<div id="logs"></div>
<script>
const logsEl = document.getElementById('logs');

fetch('/api/logs').then(r => r.json()).then(logs => {
  logs.forEach(addLog);
  logsEl.scrollTop = logsEl.scrollHeight;
});

const es = new EventSource('/api/logs/stream');
es.onmessage = (e) => {
  addLog(JSON.parse(e.data));
  logsEl.scrollTop = logsEl.scrollHeight;
};

setInterval(async () => {
  try {
    const r = await fetch('/api/status');
    const s = await r.json();
    document.getElementById('version').textContent = s.version;
    document.getElementById('uptime').textContent = s.uptime;
  } catch {}
}, 3000);

function addLog(log) {
  const div = document.createElement('div');
  div.className = 'log-line log-' + log.level;
  div.textContent = log.time + ' ' + log.message;
  logsEl.appendChild(div);
}
</script>
</body>
</html>`, cfg.Models.Quick.Model, cfg.Models.Standard.Model, deliberationLabel(cfg))
}
