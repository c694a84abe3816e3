package action

import (
	"context"

	"github.com/nitzmahone/relay/pkg/become"
	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/connection"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
)

// TaskContext is the worker-provided environment an action runs against:
// the task's resolved options and arguments, its cached connection, the
// optional become wrapper, the shared blobstore, and the sub-request
// channel back to the controller.
type TaskContext interface {
	TaskOptions() message.TaskOptions
	ActionArgs() map[string]any

	// Connection returns the cached transport for the task's connection
	// options, opening it on first use.
	Connection(ctx context.Context) (connection.Connection, error)

	// Become returns the task's escalation plugin, or nil when none is set
	Become() (become.Become, error)

	// Store is the run-wide blobstore shared with the controller and every
	// other worker.
	Store() *blobstore.Store

	// SendMessage suspends the action while the controller dispatches a
	// sub-request elsewhere; it returns the correlated result.
	SendMessage(ctx context.Context, req message.Request) (*message.TaskResult, error)
}

// Action is a named unit of work executing inside a worker. The returned
// mapping becomes the TaskResult; a truthy "failed" key signals
// action-level failure.
type Action interface {
	plugin.Plugin
	Run(ctx context.Context, task TaskContext) (map[string]any, error)
}
