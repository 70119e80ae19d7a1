package packs

import (
	"context"

	"github.com/cordum/cordum-packs/core/infra/logging"
	"github.com/cordum/cordum-packs/core/infra/metrics"
)

const (
	ActionInstall   = "packs.install"
	ActionUninstall = "packs.uninstall"
)

type userKey struct{}

// ContextWithUser attaches the requesting user to ctx for dispatched executions.
func ContextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user set by ContextWithUser, or "".
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

// ExecutionRequest asks the execution scheduler to run an action.
type ExecutionRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	// User is empty for anonymous requests.
	User string `json:"user,omitempty"`
}

// ExecutionHandle identifies a scheduled execution.
type ExecutionHandle struct {
	ExecutionID string `json:"execution_id"`
}

// Scheduler hands execution requests to the execution subsystem.
type Scheduler interface {
	Schedule(ctx context.Context, req ExecutionRequest) (ExecutionHandle, error)
}

// Dispatcher turns pack install/uninstall requests into executions of the built-in
// packs actions.
type Dispatcher struct {
	scheduler Scheduler
	metrics   metrics.PackMetrics
}

// NewDispatcher constructs a dispatcher. m may be nil.
func NewDispatcher(scheduler Scheduler, m metrics.PackMetrics) *Dispatcher {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Dispatcher{scheduler: scheduler, metrics: m}
}

// DispatchInstall schedules packs.install for the given packs.
func (d *Dispatcher) DispatchInstall(ctx context.Context, packNames []string) (ExecutionHandle, error) {
	return d.dispatch(ctx, ActionInstall, packNames)
}

// DispatchUninstall schedules packs.uninstall for the given packs.
func (d *Dispatcher) DispatchUninstall(ctx context.Context, packNames []string) (ExecutionHandle, error) {
	return d.dispatch(ctx, ActionUninstall, packNames)
}

func (d *Dispatcher) dispatch(ctx context.Context, action string, packNames []string) (ExecutionHandle, error) {
	if packNames == nil {
		packNames = []string{}
	}
	req := ExecutionRequest{
		Action:     action,
		Parameters: map[string]any{"packs": packNames},
		User:       UserFromContext(ctx),
	}
	handle, err := d.scheduler.Schedule(ctx, req)
	if err != nil {
		logging.Error("packs", "schedule failed", "action", action, "error", err)
		return ExecutionHandle{}, err
	}
	d.metrics.IncExecutionDispatched(action)
	logging.Info("packs", "execution scheduled", "action", action, "execution_id", handle.ExecutionID)
	return handle, nil
}
