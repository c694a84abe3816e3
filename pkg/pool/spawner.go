package pool

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/message"
)

// ProcessSpawner launches isolated worker processes by re-executing the
// relay binary with the hidden worker subcommand. The worker's stdin is its
// input queue and its stdout is its result queue, both carrying framed
// messages; stderr passes through for crash visibility.
type ProcessSpawner struct {
	// Binary is the executable to spawn; normally the running binary
	Binary string

	// Root is the run's temp root, shared with workers for the blobstore
	// and the debug log.
	Root string

	// LogLevel is forwarded to the worker's file logger
	LogLevel string
}

// Spawn starts one worker process for the given workload class
func (s *ProcessSpawner) Spawn(workload string, results chan<- Response) (Handle, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	id := hex.EncodeToString(buf)

	level := s.LogLevel
	if level == "" {
		level = "info"
	}

	cmd := exec.Command(s.Binary, "worker",
		"--id", id,
		"--workload", workload,
		"--root", s.Root,
		"--log-level", level,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	h := &processHandle{
		id:         id,
		cmd:        cmd,
		stdin:      stdin,
		enc:        message.NewEncoder(stdin),
		readerDone: make(chan struct{}),
	}
	go h.readLoop(stdout, results)

	return h, nil
}

type processHandle struct {
	id         string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	enc        *message.Encoder
	readerDone chan struct{}
}

func (h *processHandle) ID() string {
	return h.id
}

func (h *processHandle) Send(task message.Task) error {
	return h.enc.Encode(message.Frame{Task: task})
}

// readLoop pumps the worker's framed stdout into the pool's shared pending
// result queue until the process closes its end.
func (h *processHandle) readLoop(stdout io.Reader, results chan<- Response) {
	defer close(h.readerDone)

	dec := message.NewDecoder(stdout)
	for {
		frame, err := dec.Decode()
		if err != nil {
			if err != io.EOF {
				l := log.WithWorkerID(h.id)
				l.Error().Err(err).Msg("worker result stream failed")
			}
			return
		}

		workerID := frame.WorkerID
		if workerID == "" {
			workerID = h.id
		}
		results <- Response{WorkerID: workerID, Task: frame.Task}
	}
}

// Join closes the worker's input queue, waits for its result stream to
// drain, and reaps the process.
func (h *processHandle) Join() error {
	h.stdin.Close()
	<-h.readerDone
	return h.cmd.Wait()
}
