package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

// Registry holds the tools a consultation may call. It satisfies
// llm.ToolExecutor.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
	log   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.log = logger
		}
	}
}

// NewRegistry creates an empty tool registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefault builds a registry with the built-in read-only tools confined
// to root.
func NewDefault(root string, opts ...Option) (*Registry, error) {
	ws, err := NewWorkspace(root)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(opts...)
	for _, t := range []Tool{ReadFile(ws), ListFiles(ws), SearchText(ws)} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Returns an error if a tool with the same name
// already exists.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Spec.Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	r.log.Debug("tool registered", "tool", name)
	return nil
}

// ListTools returns the specs of all registered tools in registration order.
func (r *Registry) ListTools() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Execute runs one tool invocation. Failures are reported in the outcome,
// never as a panic or a Go error; the caller feeds them back to the model.
func (r *Registry) Execute(ctx context.Context, call llm.ToolInvocation) llm.ToolOutcome {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return llm.ToolOutcome{Success: false, Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	start := time.Now()
	out, err := t.Run(ctx, call.Params)
	elapsed := time.Since(start)

	if err != nil {
		r.log.Debug("tool failed", "tool", call.Name, "duration_ms", elapsed.Milliseconds(), "error", err)
		return llm.ToolOutcome{Success: false, Error: err.Error()}
	}
	r.log.Debug("tool executed", "tool", call.Name, "duration_ms", elapsed.Milliseconds(), "output_chars", len(out))
	return llm.ToolOutcome{Success: true, Result: out}
}
