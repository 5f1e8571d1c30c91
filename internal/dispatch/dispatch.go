package dispatch

import (
	"context"
	"sync"
	"time"

	"procurement/internal/model"

	"github.com/rs/zerolog"
)

// Hook runs after a workflow completes as approved. Hooks must be safe for
// concurrent use; a failing hook never affects the approval decision.
type Hook interface {
	Name() string
	OnCompleted(ctx context.Context, wf *model.Workflow) error
}

// FailureFunc is invoked when a hook returns an error, after logging.
type FailureFunc func(hookName string, wf *model.Workflow, err error)

// Registry maps approval categories to post-completion hooks so new
// categories can add side effects without touching the step advancer.
type Registry struct {
	mu        sync.RWMutex
	hooks     map[string][]Hook // category -> hooks
	all       []Hook            // fired for every category
	timeout   time.Duration
	onFailure FailureFunc
	log       zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		hooks:   make(map[string][]Hook),
		timeout: 30 * time.Second,
		log:     log,
	}
}

// Register binds a hook to one category.
func (r *Registry) Register(category string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[category] = append(r.hooks[category], h)
}

// RegisterAll binds a hook to every category.
func (r *Registry) RegisterAll(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, h)
}

// OnFailure installs a callback observing hook failures (e.g. to audit them).
func (r *Registry) OnFailure(fn FailureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = fn
}

// Fire runs all hooks for the workflow's category in a detached goroutine.
// Errors are logged and reported to the failure callback, never returned:
// dispatch must not block or roll back the approval that triggered it.
func (r *Registry) Fire(wf *model.Workflow) {
	r.mu.RLock()
	hooks := make([]Hook, 0, len(r.all)+len(r.hooks[wf.Category]))
	hooks = append(hooks, r.all...)
	hooks = append(hooks, r.hooks[wf.Category]...)
	onFailure := r.onFailure
	timeout := r.timeout
	r.mu.RUnlock()

	if len(hooks) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, h := range hooks {
			if err := h.OnCompleted(ctx, wf); err != nil {
				r.log.Warn().
					Err(err).
					Str("hook", h.Name()).
					Str("workflow_id", wf.ID.String()).
					Str("category", wf.Category).
					Msg("post-completion hook failed")
				if onFailure != nil {
					onFailure(h.Name(), wf, err)
				}
			}
		}
	}()
}

// FireSync runs hooks inline and is intended for tests.
func (r *Registry) FireSync(ctx context.Context, wf *model.Workflow) {
	r.mu.RLock()
	hooks := make([]Hook, 0, len(r.all)+len(r.hooks[wf.Category]))
	hooks = append(hooks, r.all...)
	hooks = append(hooks, r.hooks[wf.Category]...)
	onFailure := r.onFailure
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnCompleted(ctx, wf); err != nil {
			r.log.Warn().Err(err).Str("hook", h.Name()).Msg("post-completion hook failed")
			if onFailure != nil {
				onFailure(h.Name(), wf, err)
			}
		}
	}
}
