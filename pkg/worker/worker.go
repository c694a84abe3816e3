package worker

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nitzmahone/relay/pkg/action"
	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/connection"
	"github.com/nitzmahone/relay/pkg/content"
	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// Config wires a worker runtime to its queues and collaborators
type Config struct {
	ID       string
	Workload string
	Input    io.Reader
	Output   io.Writer
	Store    *blobstore.Store
	Registry *plugin.Registry
}

// Runtime is the dispatch loop hosted by one worker process. It multiplexes
// many logical tasks over a small set of cached transport connections and
// correlates sub-request responses back to the tasks awaiting them.
type Runtime struct {
	id       string
	workload string
	dec      *message.Decoder
	enc      *message.Encoder
	store    *blobstore.Store
	registry *plugin.Registry

	conns  map[string]connection.Connection
	connMu sync.Mutex

	mail   map[uuid.UUID]chan message.Result
	mailMu sync.Mutex

	logger zerolog.Logger
}

// NewRuntime builds a runtime over the given transport endpoints
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{
		id:       cfg.ID,
		workload: cfg.Workload,
		dec:      message.NewDecoder(cfg.Input),
		enc:      message.NewEncoder(cfg.Output),
		store:    cfg.Store,
		registry: cfg.Registry,
		conns:    make(map[string]connection.Connection),
		mail:     make(map[uuid.UUID]chan message.Result),
		logger:   log.WithWorkerID(cfg.ID),
	}
}

// Run executes the dispatch loop until a shutdown request arrives or the
// input stream closes. Each request runs as its own task; responses wake
// the task that sent the matching sub-request.
func (w *Runtime) Run(ctx context.Context) error {
	w.logger.Info().Str("workload", w.workload).Msg("worker started")
	defer w.logger.Info().Msg("worker completed")

	frames := make(chan message.Frame)
	go func() {
		defer close(frames)
		for {
			frame, err := w.dec.Decode()
			if err != nil {
				if err != io.EOF {
					w.logger.Error().Err(err).Msg("input stream failed")
				}
				return
			}
			frames <- frame
		}
	}()

	for frame := range frames {
		switch task := frame.Task.(type) {
		case *message.ShutdownWorkerRequest:
			return w.shutdown(task)
		case message.Result:
			w.deliver(task)
		case message.Request:
			go w.runTask(ctx, task)
		default:
			w.logger.Warn().Str("kind", string(frame.Task.Kind())).Msg("discarding unhandled frame")
		}
	}

	return nil
}

// deliver routes a response to the mailbox of the task awaiting it
func (w *Runtime) deliver(result message.Result) {
	w.mailMu.Lock()
	ch, ok := w.mail[result.TaskID()]
	w.mailMu.Unlock()

	if !ok {
		w.logger.Warn().Str("task_id", result.TaskID().String()).Msg("got unknown task result")
		return
	}

	select {
	case ch <- result:
	default:
		w.logger.Error().Str("task_id", result.TaskID().String()).Msg("duplicate result for task")
	}
}

func (w *Runtime) runTask(ctx context.Context, task message.Request) {
	w.putResult(w.dispatchSafe(ctx, task))
}

func (w *Runtime) putResult(task message.Task) {
	if err := w.enc.Encode(message.Frame{WorkerID: w.id, Task: task}); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.TaskID().String()).Msg("failed to emit result")
	}
}

// dispatchSafe converts any dispatch failure, including panics, into a
// TaskFailedResult; errors never escape the worker process.
func (w *Runtime) dispatchSafe(ctx context.Context, task message.Request) (result message.Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("task_id", task.TaskID().String()).Msgf("dispatch panic: %v", r)
			result = message.NewTaskFailedResult(task, fmt.Sprint(r), string(debug.Stack()))
		}
	}()

	res, err := w.dispatch(ctx, task)
	if err != nil {
		w.logger.Debug().Err(err).Str("task_id", task.TaskID().String()).Msg("dispatch failed")
		return message.NewTaskFailedResult(task, err.Error(), "")
	}
	return res
}

func (w *Runtime) dispatch(ctx context.Context, task message.Request) (message.Result, error) {
	switch t := task.(type) {
	case *message.ActionRequest:
		return w.dispatchAction(ctx, t)
	case *message.ExecCommandRequest:
		return w.dispatchExecCommand(ctx, t)
	case *message.PutFileRequest:
		return w.dispatchPutFile(ctx, t)
	case *message.FetchFileRequest:
		return w.dispatchFetchFile(ctx, t)
	case *message.ContentDescriptorRequest:
		return w.dispatchContentDescriptor(ctx, t)
	case *message.WorkerRequest:
		return message.NewTaskResult(t, map[string]any{
			"pong": fmt.Sprintf("pong from %s in worker %s", t.Ping, w.id),
		}), nil
	default:
		return nil, fmt.Errorf("no dispatch method available for task type %s", task.Kind())
	}
}

func (w *Runtime) dispatchAction(ctx context.Context, task *message.ActionRequest) (message.Result, error) {
	inst, err := w.registry.New(message.PluginAction, task.Action, task.Options())
	if err != nil {
		return nil, err
	}

	act, ok := inst.(action.Action)
	if !ok {
		return nil, fmt.Errorf("plugin %q is not an action", task.Action)
	}

	result, err := act.Run(ctx, newTaskContext(w, task))
	if err != nil {
		return nil, err
	}

	return message.NewTaskResult(task, result), nil
}

func (w *Runtime) dispatchExecCommand(ctx context.Context, task *message.ExecCommandRequest) (message.Result, error) {
	conn, err := w.getConnection(ctx, task.Options())
	if err != nil {
		return nil, err
	}

	var stdin resource.Reader
	if task.StdinKey != "" {
		if stdin, err = w.store.Get(task.StdinKey); err != nil {
			return nil, err
		}
		defer stdin.Close()
	}

	stdout, stderr, rc, err := conn.ExecCommand(ctx, task.Cmd, stdin)
	if err != nil {
		return nil, err
	}

	return message.NewTaskResult(task, map[string]any{
		"failed": rc != 0,
		"stdout": string(stdout),
		"stderr": string(stderr),
		"rc":     rc,
	}), nil
}

func (w *Runtime) dispatchPutFile(ctx context.Context, task *message.PutFileRequest) (message.Result, error) {
	conn, err := w.getConnection(ctx, task.Options())
	if err != nil {
		return nil, err
	}

	src, err := w.openReader(task.Src)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := conn.PutFile(ctx, src, task.DstPath); err != nil {
		return nil, err
	}

	return message.NewTaskResult(task, map[string]any{"failed": false}), nil
}

func (w *Runtime) dispatchFetchFile(ctx context.Context, task *message.FetchFileRequest) (message.Result, error) {
	conn, err := w.getConnection(ctx, task.Options())
	if err != nil {
		return nil, err
	}

	dst, err := w.openWriter(task.Dst)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	if err := conn.FetchFile(ctx, task.SrcPath, dst); err != nil {
		return nil, err
	}

	return message.NewTaskResult(task, map[string]any{"failed": false}), nil
}

func (w *Runtime) dispatchContentDescriptor(ctx context.Context, task *message.ContentDescriptorRequest) (message.Result, error) {
	inst, err := w.registry.New(message.PluginContent, task.Plugin, task.Options())
	if err != nil {
		return nil, err
	}

	cp, ok := inst.(content.Plugin)
	if !ok {
		return nil, fmt.Errorf("plugin %q is not a content descriptor", task.Plugin)
	}

	if err := cp.Generate(ctx, w.store, task.Key); err != nil {
		return nil, err
	}

	return message.NewTaskResult(task, map[string]any{"failed": false}), nil
}

func (w *Runtime) openReader(res message.Resource) (resource.Reader, error) {
	switch res.Kind {
	case message.ResourceBlob:
		return w.store.Get(res.Key)
	case message.ResourceFilesystem:
		return resource.OpenFileReader(res.Path)
	default:
		return nil, fmt.Errorf("unknown resource kind %q", res.Kind)
	}
}

func (w *Runtime) openWriter(res message.Resource) (resource.Writer, error) {
	switch res.Kind {
	case message.ResourceBlob:
		return w.store.Put(res.Key)
	case message.ResourceFilesystem:
		return resource.CreateFileWriter(res.Path)
	default:
		return nil, fmt.Errorf("unknown resource kind %q", res.Kind)
	}
}

// getConnection returns the cached connection for the task's resolved
// connection options, constructing and opening it on first use. The cache
// key is a stable fingerprint of the option map, so tasks with identical
// transport configuration share one connection.
func (w *Runtime) getConnection(ctx context.Context, opts message.TaskOptions) (connection.Connection, error) {
	connName := opts.Plugins[message.PluginConnection]
	if connName == "" {
		return nil, fmt.Errorf("no connection plugin set in task options")
	}

	spec, err := w.registry.Lookup(message.PluginConnection, connName)
	if err != nil {
		return nil, err
	}

	fp, err := Fingerprint(opts.PluginOptions[spec.Name])
	if err != nil {
		return nil, err
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()

	if conn, ok := w.conns[fp]; ok {
		return conn, nil
	}

	inst, err := w.registry.New(message.PluginConnection, connName, opts)
	if err != nil {
		return nil, err
	}

	conn, ok := inst.(connection.Connection)
	if !ok {
		return nil, fmt.Errorf("plugin %q is not a connection", connName)
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	w.logger.Debug().Str("connection", spec.Name).Str("fingerprint", fp).Msg("opened connection")
	w.conns[fp] = conn
	return conn, nil
}

// shutdown acknowledges the request, closes every cached connection
// concurrently, then reports completion. The process exits once Run
// returns.
func (w *Runtime) shutdown(task *message.ShutdownWorkerRequest) error {
	w.putResult(&message.ShutdownWorkerResponse{
		Header: message.Header{ID: task.TaskID()},
		Status: message.ShutdownAck,
	})

	w.connMu.Lock()
	conns := w.conns
	w.conns = make(map[string]connection.Connection)
	w.connMu.Unlock()

	var wg sync.WaitGroup
	for fp, conn := range conns {
		wg.Add(1)
		go func(fp string, conn connection.Connection) {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				w.logger.Error().Err(err).Str("fingerprint", fp).Msg("failed to close connection")
			}
		}(fp, conn)
	}
	wg.Wait()

	w.putResult(&message.ShutdownWorkerResponse{
		Header: message.Header{ID: task.TaskID()},
		Status: message.ShutdownOK,
	})

	return nil
}
