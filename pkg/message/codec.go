package message

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single wire frame. Large payloads move through the
// blobstore, not the queue protocol.
const maxFrameSize = 64 << 20

// envelope is the wire form of a frame: an explicit variant tag, the sender's
// worker id on worker-originated frames, and the task body.
type envelope struct {
	Kind     Kind            `json:"kind"`
	WorkerID string          `json:"worker_id,omitempty"`
	Body     json.RawMessage `json:"body"`
}

// Frame pairs a task with the worker id it came from. Frames sent from the
// controller to a worker leave WorkerID empty.
type Frame struct {
	WorkerID string
	Task     Task
}

var decoders = map[Kind]func() Task{
	KindActionRequest:            func() Task { return new(ActionRequest) },
	KindExecCommandRequest:       func() Task { return new(ExecCommandRequest) },
	KindPutFileRequest:           func() Task { return new(PutFileRequest) },
	KindFetchFileRequest:         func() Task { return new(FetchFileRequest) },
	KindContentDescriptorRequest: func() Task { return new(ContentDescriptorRequest) },
	KindWorkerRequest:            func() Task { return new(WorkerRequest) },
	KindShutdownWorkerRequest:    func() Task { return new(ShutdownWorkerRequest) },
	KindTaskResult:               func() Task { return new(TaskResult) },
	KindTaskFailedResult:         func() Task { return new(TaskFailedResult) },
	KindShutdownWorkerResponse:   func() Task { return new(ShutdownWorkerResponse) },
}

// Marshal encodes a frame as a tagged JSON envelope
func Marshal(f Frame) ([]byte, error) {
	body, err := json.Marshal(f.Task)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", f.Task.Kind(), err)
	}
	return json.Marshal(envelope{Kind: f.Task.Kind(), WorkerID: f.WorkerID, Body: body})
}

// Unmarshal decodes a tagged JSON envelope back into a frame. Receivers
// dispatch on the decoded variant, never on structural inspection.
func Unmarshal(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	alloc, ok := decoders[env.Kind]
	if !ok {
		return Frame{}, fmt.Errorf("unknown message kind %q", env.Kind)
	}

	task := alloc()
	if err := json.Unmarshal(env.Body, task); err != nil {
		return Frame{}, fmt.Errorf("unmarshal %s body: %w", env.Kind, err)
	}

	return Frame{WorkerID: env.WorkerID, Task: task}, nil
}

// Encoder writes length-prefixed frames to a byte stream. Safe for
// concurrent use; frames are never interleaved.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode frames and writes one envelope
func (e *Encoder) Encode(f Frame) error {
	data, err := Marshal(f)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := e.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame prefix: %w", err)
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed frames from a byte stream
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads one frame. Returns io.EOF when the stream closes cleanly
// between frames.
func (d *Decoder) Decode() (Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read frame prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return Frame{}, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return Frame{}, fmt.Errorf("read frame body: %w", err)
	}

	return Unmarshal(data)
}
