package message

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOptions() TaskOptions {
	return TaskOptions{
		Plugins: map[PluginKind]string{
			PluginAction:     "relay.action.raw",
			PluginConnection: "relay.connection.local",
		},
		PluginOptions: map[string]map[string]any{
			"relay.connection.local": {
				"nested": map[string]any{"a": "b"},
				"list":   []any{"x", "y"},
			},
		},
	}
}

func TestTaskOptionsCloneIsDeep(t *testing.T) {
	orig := sampleOptions()
	clone := orig.Clone()

	clone.Plugins[PluginBecome] = "relay.become.sudo"
	clone.PluginOptions["relay.connection.local"]["nested"].(map[string]any)["a"] = "mutated"
	clone.PluginOptions["relay.connection.local"]["list"].([]any)[0] = "mutated"

	assert.NotContains(t, orig.Plugins, PluginBecome)
	assert.Equal(t, "b", orig.PluginOptions["relay.connection.local"]["nested"].(map[string]any)["a"])
	assert.Equal(t, "x", orig.PluginOptions["relay.connection.local"]["list"].([]any)[0])
}

func TestMarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		task Task
	}{
		{
			name: "action request",
			task: &ActionRequest{
				RequestHeader: NewRequestHeader(sampleOptions()),
				Action:        "relay.action.raw",
				ActionArgs:    map[string]any{"command": "echo hi"},
			},
		},
		{
			name: "exec command request",
			task: &ExecCommandRequest{
				RequestHeader: NewRequestHeader(sampleOptions()),
				Cmd:           "uname -a",
				StdinKey:      "payload.sh",
			},
		},
		{
			name: "put file request",
			task: &PutFileRequest{
				RequestHeader: NewRequestHeader(sampleOptions()),
				Src:           BlobResource("module-hello"),
				DstPath:       "/tmp/hello",
			},
		},
		{
			name: "fetch file request",
			task: &FetchFileRequest{
				RequestHeader: NewRequestHeader(sampleOptions()),
				SrcPath:       "/etc/hostname",
				Dst:           FilesystemResource("/tmp/hostname"),
			},
		},
		{
			name: "content descriptor request",
			task: &ContentDescriptorRequest{
				RequestHeader: NewRequestHeader(sampleOptions()),
				Plugin:        "relay.content.file",
				Key:           "module-hello",
			},
		},
		{
			name: "worker request",
			task: &WorkerRequest{RequestHeader: NewRequestHeader(TaskOptions{}), Ping: "hello"},
		},
		{
			name: "shutdown request",
			task: NewShutdownWorkerRequest(),
		},
		{
			name: "task result",
			task: &TaskResult{
				Header: Header{ID: uuid.New()},
				Result: map[string]any{"failed": false, "stdout": "hi\n", "rc": float64(0)},
			},
		},
		{
			name: "task failed result",
			task: &TaskFailedResult{Header: Header{ID: uuid.New()}, Message: "boom", Traceback: "stack"},
		},
		{
			name: "shutdown response",
			task: &ShutdownWorkerResponse{Header: Header{ID: uuid.New()}, Status: ShutdownAck},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(Frame{WorkerID: "ab12cd", Task: tt.task})
			require.NoError(t, err)

			frame, err := Unmarshal(data)
			require.NoError(t, err)

			assert.Equal(t, "ab12cd", frame.WorkerID)
			assert.Equal(t, tt.task.Kind(), frame.Task.Kind())
			assert.Equal(t, tt.task, frame.Task)
		})
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"kind":"bogus","body":{}}`))
	assert.ErrorContains(t, err, "unknown message kind")
}

func TestEncoderDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	first := &WorkerRequest{RequestHeader: NewRequestHeader(TaskOptions{}), Ping: "one"}
	second := NewTaskResult(first, map[string]any{"pong": "one"})

	require.NoError(t, enc.Encode(Frame{Task: first}))
	require.NoError(t, enc.Encode(Frame{WorkerID: "ff00aa", Task: second}))

	dec := NewDecoder(&buf)

	frame, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, first, frame.Task)

	frame, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "ff00aa", frame.WorkerID)
	assert.Equal(t, second, frame.Task)

	_, err = dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestResultInterfaces(t *testing.T) {
	var task Task = &TaskResult{Header: Header{ID: uuid.New()}}
	_, isResult := task.(Result)
	assert.True(t, isResult)

	_, isRequest := task.(Request)
	assert.False(t, isRequest)

	var req Task = &ActionRequest{RequestHeader: NewRequestHeader(TaskOptions{})}
	_, isResult = req.(Result)
	assert.False(t, isResult)

	_, isRequest = req.(Request)
	assert.True(t, isRequest)
}

func TestTaskFailedResultAsResult(t *testing.T) {
	failed := NewTaskFailedResult(&WorkerRequest{RequestHeader: NewRequestHeader(TaskOptions{})}, "broken pipe", "stack")
	result := failed.AsResult()

	assert.Equal(t, true, result["failed"])
	assert.Equal(t, "broken pipe", result["msg"])
	assert.Equal(t, "stack", result["traceback"])
}
