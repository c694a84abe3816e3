package worker

import (
	"context"
	"fmt"

	"github.com/nitzmahone/relay/pkg/become"
	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/connection"
	"github.com/nitzmahone/relay/pkg/message"
)

// taskContext is the worker-backed action.TaskContext for one action run
type taskContext struct {
	w   *Runtime
	req *message.ActionRequest
}

func newTaskContext(w *Runtime, req *message.ActionRequest) *taskContext {
	return &taskContext{w: w, req: req}
}

func (c *taskContext) TaskOptions() message.TaskOptions {
	return c.req.TaskOptions
}

func (c *taskContext) ActionArgs() map[string]any {
	return c.req.ActionArgs
}

func (c *taskContext) Connection(ctx context.Context) (connection.Connection, error) {
	return c.w.getConnection(ctx, c.req.TaskOptions)
}

func (c *taskContext) Become() (become.Become, error) {
	name := c.req.TaskOptions.Plugins[message.PluginBecome]
	if name == "" {
		return nil, nil
	}

	inst, err := c.w.registry.New(message.PluginBecome, name, c.req.TaskOptions)
	if err != nil {
		return nil, err
	}

	b, ok := inst.(become.Become)
	if !ok {
		return nil, fmt.Errorf("plugin %q is not a become method", name)
	}
	return b, nil
}

func (c *taskContext) Store() *blobstore.Store {
	return c.w.store
}

// SendMessage parks the running action on a mailbox keyed by the
// sub-request's id, emits the request onto the result queue where the
// controller treats it as new work, and resumes when the correlated
// response arrives on the worker's input queue.
func (c *taskContext) SendMessage(ctx context.Context, req message.Request) (*message.TaskResult, error) {
	ch := make(chan message.Result, 1)

	c.w.mailMu.Lock()
	c.w.mail[req.TaskID()] = ch
	c.w.mailMu.Unlock()

	defer func() {
		c.w.mailMu.Lock()
		delete(c.w.mail, req.TaskID())
		c.w.mailMu.Unlock()
	}()

	if err := c.w.enc.Encode(message.Frame{WorkerID: c.w.id, Task: req}); err != nil {
		return nil, fmt.Errorf("failed to emit sub-request: %w", err)
	}

	select {
	case res := <-ch:
		switch r := res.(type) {
		case *message.TaskResult:
			return r, nil
		case *message.TaskFailedResult:
			return nil, fmt.Errorf("sub-request failed: %s", r.Message)
		default:
			return nil, fmt.Errorf("unexpected response kind %s for sub-request", res.Kind())
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
