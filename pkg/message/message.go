package message

import (
	"github.com/google/uuid"
)

// PluginKind identifies a plugin slot in TaskOptions
type PluginKind string

const (
	PluginAction     PluginKind = "action"
	PluginConnection PluginKind = "connection"
	PluginBecome     PluginKind = "become"
	PluginExec       PluginKind = "exec"
	PluginModule     PluginKind = "module"
	PluginContent    PluginKind = "content"
)

// Kind is the wire discriminator for task variants
type Kind string

const (
	KindActionRequest            Kind = "action_request"
	KindExecCommandRequest       Kind = "exec_command_request"
	KindPutFileRequest           Kind = "put_file_request"
	KindFetchFileRequest         Kind = "fetch_file_request"
	KindContentDescriptorRequest Kind = "content_descriptor_request"
	KindWorkerRequest            Kind = "worker_request"
	KindShutdownWorkerRequest    Kind = "shutdown_worker_request"
	KindTaskResult               Kind = "task_result"
	KindTaskFailedResult         Kind = "task_failed_result"
	KindShutdownWorkerResponse   Kind = "shutdown_worker_response"
)

// ShutdownStatus reports worker shutdown progress
type ShutdownStatus string

const (
	ShutdownAck          ShutdownStatus = "ack"
	ShutdownOK           ShutdownStatus = "ok"
	ShutdownNeedMoreTime ShutdownStatus = "need_more_time"
)

// TaskOptions is the immutable per-task plugin configuration. Plugins maps a
// plugin kind to the fully qualified plugin name chosen for this task;
// PluginOptions maps a plugin name to its resolved option values.
type TaskOptions struct {
	Plugins       map[PluginKind]string     `json:"plugins"`
	PluginOptions map[string]map[string]any `json:"plugin_options,omitempty"`
}

// Clone returns a deep copy; PluginOptions values are copied recursively so a
// caller can modify the clone without aliasing the original.
func (o TaskOptions) Clone() TaskOptions {
	c := TaskOptions{
		Plugins:       make(map[PluginKind]string, len(o.Plugins)),
		PluginOptions: make(map[string]map[string]any, len(o.PluginOptions)),
	}
	for k, v := range o.Plugins {
		c.Plugins[k] = v
	}
	for name, opts := range o.PluginOptions {
		m := make(map[string]any, len(opts))
		for k, v := range opts {
			m[k] = copyValue(v)
		}
		c.PluginOptions[name] = m
	}
	return c
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = copyValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = copyValue(e)
		}
		return s
	default:
		return v
	}
}

// Task is any message correlated by a TaskId
type Task interface {
	TaskID() uuid.UUID
	Kind() Kind
}

// Request is a task that carries TaskOptions and demands work
type Request interface {
	Task
	Options() TaskOptions
}

// Result is a terminal or control response to a request
type Result interface {
	Task
	isResult()
}

// Header is embedded by every task variant
type Header struct {
	ID uuid.UUID `json:"task_id"`
}

func (h Header) TaskID() uuid.UUID { return h.ID }

// RequestHeader is embedded by every request variant
type RequestHeader struct {
	Header
	TaskOptions TaskOptions `json:"task_options"`
}

func (h RequestHeader) Options() TaskOptions { return h.TaskOptions }

// NewRequestHeader allocates a fresh task id for an outgoing request
func NewRequestHeader(opts TaskOptions) RequestHeader {
	return RequestHeader{Header: Header{ID: uuid.New()}, TaskOptions: opts}
}

// ActionRequest runs a named action plugin inside a worker
type ActionRequest struct {
	RequestHeader
	Action     string         `json:"action"`
	ActionArgs map[string]any `json:"action_args"`
}

func (*ActionRequest) Kind() Kind { return KindActionRequest }

// ExecCommandRequest executes a command over the task's connection. StdinKey,
// when set, names a blob whose content is streamed to the command's stdin.
type ExecCommandRequest struct {
	RequestHeader
	Cmd      string `json:"cmd"`
	StdinKey string `json:"stdin_key,omitempty"`
}

func (*ExecCommandRequest) Kind() Kind { return KindExecCommandRequest }

// PutFileRequest copies a resource to a path on the task's target
type PutFileRequest struct {
	RequestHeader
	Src     Resource `json:"src"`
	DstPath string   `json:"dst_path"`
}

func (*PutFileRequest) Kind() Kind { return KindPutFileRequest }

// FetchFileRequest copies a path on the task's target into a resource
type FetchFileRequest struct {
	RequestHeader
	SrcPath string   `json:"src_path"`
	Dst     Resource `json:"dst"`
}

func (*FetchFileRequest) Kind() Kind { return KindFetchFileRequest }

// ContentDescriptorRequest asks a content worker to generate the blob named
// by Key using the named content plugin.
type ContentDescriptorRequest struct {
	RequestHeader
	Plugin string `json:"plugin"`
	Key    string `json:"key"`
}

func (*ContentDescriptorRequest) Kind() Kind { return KindContentDescriptorRequest }

// WorkerRequest is a diagnostic ping
type WorkerRequest struct {
	RequestHeader
	Ping string `json:"ping"`
}

func (*WorkerRequest) Kind() Kind { return KindWorkerRequest }

// ShutdownWorkerRequest tells a worker to exit its dispatch loop
type ShutdownWorkerRequest struct {
	RequestHeader
}

func (*ShutdownWorkerRequest) Kind() Kind { return KindShutdownWorkerRequest }

// NewShutdownWorkerRequest builds a shutdown request with a fresh id
func NewShutdownWorkerRequest() *ShutdownWorkerRequest {
	return &ShutdownWorkerRequest{RequestHeader: NewRequestHeader(TaskOptions{})}
}

// TaskResult carries the result mapping for a completed request
type TaskResult struct {
	Header
	Result map[string]any `json:"result"`
}

func (*TaskResult) Kind() Kind { return KindTaskResult }
func (*TaskResult) isResult()  {}

// Failed reports whether the result mapping carries a truthy "failed" key
func (r *TaskResult) Failed() bool {
	failed, _ := r.Result["failed"].(bool)
	return failed
}

// TaskFailedResult reports that dispatch of a request raised an error
// before the handler could produce a result mapping.
type TaskFailedResult struct {
	Header
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

func (*TaskFailedResult) Kind() Kind { return KindTaskFailedResult }
func (*TaskFailedResult) isResult()  {}

// AsResult converts the failure into a failing result mapping, the shape
// callers consume.
func (r *TaskFailedResult) AsResult() map[string]any {
	m := map[string]any{"failed": true, "msg": r.Message}
	if r.Traceback != "" {
		m["traceback"] = r.Traceback
	}
	return m
}

// ShutdownWorkerResponse acknowledges stages of worker shutdown
type ShutdownWorkerResponse struct {
	Header
	Status ShutdownStatus `json:"status"`
}

func (*ShutdownWorkerResponse) Kind() Kind { return KindShutdownWorkerResponse }
func (*ShutdownWorkerResponse) isResult()  {}

// NewTaskResult wraps a result mapping as the terminal result for task
func NewTaskResult(task Task, result map[string]any) *TaskResult {
	return &TaskResult{Header: Header{ID: task.TaskID()}, Result: result}
}

// NewTaskFailure builds a failing TaskResult with msg and extra keys
func NewTaskFailure(task Task, msg string, extra map[string]any) *TaskResult {
	result := map[string]any{"failed": true, "msg": msg}
	for k, v := range extra {
		result[k] = v
	}
	return NewTaskResult(task, result)
}

// NewTaskFailedResult reports a dispatch error for task
func NewTaskFailedResult(task Task, msg, traceback string) *TaskFailedResult {
	return &TaskFailedResult{Header: Header{ID: task.TaskID()}, Message: msg, Traceback: traceback}
}
