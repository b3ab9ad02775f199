package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zjregee/deepthread/internal/models"
)

const defaultToolTimeout = 60 * time.Second

// Router dispatches tool calls to a fixed set of tools. Each call runs
// exactly once; failures are returned, never retried.
type Router struct {
	infos    []*schema.ToolInfo
	tools    map[string]tool.InvokableTool
	timeout  time.Duration
	timeouts map[string]time.Duration
	logger   *zap.Logger
}

type RouterOption func(*Router)

func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithToolTimeout bounds one tool by d instead of the router-wide timeout.
func WithToolTimeout(name string, d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeouts[name] = d
		}
	}
}

func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter builds the tools named in allow, or every registered tool when
// allow is nil.
func NewRouter(ctx context.Context, env *Env, allow []string, opts ...RouterOption) (*Router, error) {
	infos, toolsMap, err := build(ctx, env, allow)
	if err != nil {
		return nil, err
	}
	return newRouter(infos, toolsMap, opts...), nil
}

func newRouter(infos []*schema.ToolInfo, toolsMap map[string]tool.InvokableTool, opts ...RouterOption) *Router {
	r := &Router{
		infos:   infos,
		tools:   toolsMap,
		timeout:  defaultToolTimeout,
		timeouts: make(map[string]time.Duration),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) ToolInfos() []*schema.ToolInfo {
	return r.infos
}

func (r *Router) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Router) timeoutFor(name string) time.Duration {
	if d, ok := r.timeouts[name]; ok {
		return d
	}
	return r.timeout
}

type dispatchResult struct {
	output string
	err    error
}

func (r *Router) Dispatch(ctx context.Context, call schema.ToolCall) (string, error) {
	name := call.Function.Name
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %q (available: %s)", models.ErrUnknownTool, name, strings.Join(r.Names(), ", "))
	}

	args := strings.TrimSpace(call.Function.Arguments)
	if args == "" {
		args = "{}"
	}
	if !gjson.Valid(args) || !gjson.Parse(args).IsObject() {
		return "", fmt.Errorf("%w: arguments for %s must be a JSON object", models.ErrInvalidArguments, name)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeoutFor(name))
	defer cancel()

	start := time.Now()
	done := make(chan dispatchResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tool panicked",
					zap.String("tool", name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
				done <- dispatchResult{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		output, err := t.InvokableRun(runCtx, args)
		done <- dispatchResult{output: output, err: err}
	}()

	var res dispatchResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		res = dispatchResult{err: fmt.Errorf("tool %s: %w", name, runCtx.Err())}
	}

	r.logger.Debug("tool dispatched",
		zap.String("tool", name),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("failed", res.err != nil))

	if res.err != nil {
		return "", classify(name, res.err)
	}
	return res.output, nil
}

var passThrough = []error{
	models.ErrInvalidArguments,
	models.ErrInvalidTransition,
	models.ErrStepNotFound,
	models.ErrNotFound,
	models.ErrAmbiguous,
	models.ErrUnknownTool,
	context.DeadlineExceeded,
	context.Canceled,
}

func classify(name string, err error) error {
	for _, target := range passThrough {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("tool %s failed: %w", name, err)
}
