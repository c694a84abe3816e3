package manager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitzmahone/relay/pkg/action"
	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/connection"
	"github.com/nitzmahone/relay/pkg/content"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/pool"
	"github.com/nitzmahone/relay/pkg/worker"
)

func testRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	r.MustRegister(
		connection.LocalSpec,
		action.RawSpec,
		action.ModuleBinarySpec,
		content.FileSpec,
	)
	return r
}

// inprocSpawner hosts worker runtimes inside the test process over pipes,
// sharing one blobstore root the way spawned processes share the temp dir.
type inprocSpawner struct {
	registry *plugin.Registry
	store    *blobstore.Store
	spawned  atomic.Int32
}

func newInprocSpawner(t *testing.T) *inprocSpawner {
	t.Helper()
	store, err := blobstore.New(filepath.Join(t.TempDir(), "blobstore"))
	require.NoError(t, err)
	return &inprocSpawner{registry: testRegistry(), store: store}
}

func (s *inprocSpawner) Spawn(workload string, results chan<- pool.Response) (pool.Handle, error) {
	id := fmt.Sprintf("w%02d", s.spawned.Add(1))

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	rt := worker.NewRuntime(worker.Config{
		ID:       id,
		Workload: workload,
		Input:    inR,
		Output:   outW,
		Store:    s.store,
		Registry: s.registry,
	})

	h := &inprocHandle{
		id:         id,
		input:      inW,
		enc:        message.NewEncoder(inW),
		runDone:    make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	go func() {
		defer close(h.runDone)
		_ = rt.Run(context.Background())
		outW.Close()
	}()

	go func() {
		defer close(h.readerDone)
		dec := message.NewDecoder(outR)
		for {
			frame, err := dec.Decode()
			if err != nil {
				return
			}
			workerID := frame.WorkerID
			if workerID == "" {
				workerID = id
			}
			results <- pool.Response{WorkerID: workerID, Task: frame.Task}
		}
	}()

	return h, nil
}

type inprocHandle struct {
	id         string
	input      io.WriteCloser
	enc        *message.Encoder
	runDone    chan struct{}
	readerDone chan struct{}
}

func (h *inprocHandle) ID() string { return h.id }

func (h *inprocHandle) Send(task message.Task) error {
	return h.enc.Encode(message.Frame{Task: task})
}

func (h *inprocHandle) Join() error {
	h.input.Close()
	<-h.runDone
	<-h.readerDone
	return nil
}

func localOptions() message.TaskOptions {
	return message.TaskOptions{
		Plugins:       map[message.PluginKind]string{message.PluginConnection: "relay.connection.local"},
		PluginOptions: map[string]map[string]any{"relay.connection.local": {}},
	}
}

func getWithTimeout(t *testing.T, m *Manager) message.Task {
	t.Helper()

	done := make(chan message.Task, 1)
	go func() {
		task, ok := m.Get()
		if !ok {
			done <- nil
			return
		}
		done <- task
	}()

	select {
	case task := <-done:
		require.NotNil(t, task)
		return task
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for task result")
		return nil
	}
}

func TestManagerEchoAction(t *testing.T) {
	m := New(Config{Spawner: newInprocSpawner(t)})
	defer m.Shutdown()

	req := &message.ActionRequest{
		RequestHeader: message.NewRequestHeader(localOptions()),
		Action:        "relay.action.raw",
		ActionArgs:    map[string]any{"command": "echo hi"},
	}
	require.NoError(t, m.Queue(req, true))

	task := getWithTimeout(t, m)
	result, ok := task.(*message.TaskResult)
	require.True(t, ok, "got %T", task)

	assert.Equal(t, req.TaskID(), result.TaskID())
	assert.Equal(t, false, result.Result["failed"])
	assert.Equal(t, "hi\n", result.Result["stdout"])
	assert.Equal(t, "", result.Result["stderr"])
	assert.Equal(t, float64(0), result.Result["rc"])

	assert.Equal(t, req, m.GetOriginalTask(result))
	m.Finish(result.TaskID())

	_, ok = m.Get()
	assert.False(t, ok, "no running tasks left")
}

func TestManagerQueueWithoutConnection(t *testing.T) {
	m := New(Config{Spawner: newInprocSpawner(t)})
	defer m.Shutdown()

	req := &message.ExecCommandRequest{
		RequestHeader: message.NewRequestHeader(message.TaskOptions{}),
		Cmd:           "true",
	}
	err := m.Queue(req, true)
	assert.ErrorContains(t, err, "no connection plugin")
}

// TestManagerModuleBinaryRelay exercises the full sub-request path: the
// action in the connection pool asks for content, the manager re-dispatches
// the request to the content pool, the generated blob lands in the shared
// store, and the response relays back to wake the suspended action.
func TestManagerModuleBinaryRelay(t *testing.T) {
	spawner := newInprocSpawner(t)
	m := New(Config{Spawner: spawner})
	defer m.Shutdown()

	modulePath := filepath.Join(t.TempDir(), "hellomod")
	script := "#!/bin/sh\necho '{\"failed\": false, \"hello\": \"world\"}'\n"
	require.NoError(t, os.WriteFile(modulePath, []byte(script), 0o755))

	opts := localOptions()
	opts.Plugins[message.PluginAction] = "relay.action.module-binary"
	opts.PluginOptions["relay.action.module-binary"] = map[string]any{}

	req := &message.ActionRequest{
		RequestHeader: message.NewRequestHeader(opts),
		Action:        "relay.action.module-binary",
		ActionArgs:    map[string]any{"module": modulePath, "options": map[string]any{"name": "test"}},
	}
	require.NoError(t, m.Queue(req, true))

	task := getWithTimeout(t, m)
	result, ok := task.(*message.TaskResult)
	require.True(t, ok, "got %T", task)

	assert.Equal(t, req.TaskID(), result.TaskID())
	assert.Equal(t, false, result.Result["failed"])
	assert.Equal(t, "world", result.Result["hello"])

	// Both the connection pool and the content pool were built
	m.mu.Lock()
	_, hasContent := m.poolsByWorktype["content"]
	_, hasConn := m.poolsByWorktype["connection-relay.connection.local"]
	m.mu.Unlock()
	assert.True(t, hasContent)
	assert.True(t, hasConn)

	// The staged module is reusable from the shared store
	_, err := spawner.store.Get("module-hellomod")
	assert.NoError(t, err)

	m.Finish(result.TaskID())
}

func TestManagerPoolSelection(t *testing.T) {
	m := New(Config{Spawner: newInprocSpawner(t), ContentWorkers: 4})
	defer m.Shutdown()

	contentReq := &message.ContentDescriptorRequest{
		RequestHeader: message.NewRequestHeader(message.TaskOptions{}),
		Plugin:        "relay.content.file",
		Key:           "k",
	}
	p, err := m.getPoolForTask(contentReq)
	require.NoError(t, err)
	assert.Equal(t, "content", p.WorkloadType())
	assert.Equal(t, 4, p.MaxWorkers())

	execReq := &message.ExecCommandRequest{RequestHeader: message.NewRequestHeader(localOptions()), Cmd: "true"}
	p, err = m.getPoolForTask(execReq)
	require.NoError(t, err)
	assert.Equal(t, "connection-relay.connection.local", p.WorkloadType())
	assert.Equal(t, 1, p.MaxWorkers())

	// Same workload class reuses the pool
	p2, err := m.getPoolForTask(execReq)
	require.NoError(t, err)
	assert.Same(t, p, p2)

	_, err = m.getPoolForTask(message.NewTaskResult(execReq, nil))
	assert.Error(t, err)
}

func TestManagerShutdownBounded(t *testing.T) {
	m := New(Config{Spawner: newInprocSpawner(t)})

	req := &message.WorkerRequest{RequestHeader: message.NewRequestHeader(localOptions()), Ping: "x"}
	require.NoError(t, m.Queue(req, true))
	task := getWithTimeout(t, m)
	m.Finish(task.TaskID())

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete in bounded time")
	}
}
