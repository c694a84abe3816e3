package become

import (
	"bytes"
	"sync"

	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// Become wraps a remote command in a privilege-escalation handshake. The
// handshake is a state machine over the process's stdout/stderr lines: each
// line may trigger a write to the process stdin (a password) or flip the
// plugin to completed, after which stdio passes through unfiltered.
type Become interface {
	plugin.Plugin

	// BuildBecomeCommand wraps cmd inside the become executable
	BuildBecomeCommand(cmd string) string

	// RequiresTty reports whether the wrapped command needs a TTY
	RequiresTty() bool

	// Completed reports whether the handshake has finished
	Completed() bool

	// ProcessLine consumes one line from the named stream ("stdout" or
	// "stderr") and may write to the process stdin. Bytes returned for a
	// complete line are passed through to the stream's consumer instead of
	// being swallowed; bytes returned for a trailing partial line are
	// discarded.
	ProcessLine(stream string, line []byte, stdin resource.Writer) ([]byte, error)
}

// ApplyStdioFilter wraps a process's stdio in the become handshake. Both
// output streams feed the state machine until the plugin reports
// completion; writes to the filtered stdin park until then, so payload
// bytes cannot race the handshake.
func ApplyStdioFilter(b Become, stdout, stderr resource.Reader, stdin resource.Writer) (resource.Reader, resource.Reader, resource.Writer) {
	gate := newCompletionGate()

	filteredStdout := &becomeReader{stream: "stdout", become: b, reader: stdout, stdin: stdin, gate: gate}
	filteredStderr := &becomeReader{stream: "stderr", become: b, reader: stderr, stdin: stdin, gate: gate}
	filteredStdin := &becomeWriter{writer: stdin, gate: gate}

	return filteredStdout, filteredStderr, filteredStdin
}

// completionGate releases stdin writers once the handshake completes
type completionGate struct {
	once sync.Once
	ch   chan struct{}
}

func newCompletionGate() *completionGate {
	return &completionGate{ch: make(chan struct{})}
}

func (g *completionGate) open() {
	g.once.Do(func() { close(g.ch) })
}

func (g *completionGate) wait() {
	<-g.ch
}

// becomeReader feeds stream lines through the handshake until completion
type becomeReader struct {
	stream  string
	become  Become
	reader  resource.Reader
	stdin   resource.Writer
	gate    *completionGate
	partial []byte
	pending []byte
}

func (r *becomeReader) Read(n int) ([]byte, error) {
	for {
		if r.become.Completed() {
			r.gate.open()

			// Hand back anything the handshake let through, then any
			// buffered partial line, before resuming raw reads.
			if len(r.pending) > 0 {
				out := r.pending
				r.pending = nil
				return out, nil
			}
			if len(r.partial) > 0 {
				out := r.partial
				r.partial = nil
				return out, nil
			}
			return r.reader.Read(n)
		}

		data, err := r.reader.Read(4096)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			// Stream ended mid-handshake; release stdin writers so the
			// caller is not wedged, and surface what we have.
			r.gate.open()
			out := r.partial
			r.partial = nil
			return out, nil
		}

		r.partial = append(r.partial, data...)
		for {
			idx := bytes.IndexByte(r.partial, '\n')
			if idx < 0 {
				break
			}

			line := r.partial[:idx]
			r.partial = append([]byte(nil), r.partial[idx+1:]...)

			passthrough, err := r.become.ProcessLine(r.stream, line, r.stdin)
			if err != nil {
				return nil, err
			}
			if len(passthrough) > 0 {
				r.pending = append(r.pending, passthrough...)
			}

			if r.become.Completed() {
				break
			}
		}

		// Prompts are written without a trailing newline, so the trailing
		// partial line must be offered too. It may be offered again as more
		// data arrives; plugins are expected to act idempotently.
		if !r.become.Completed() && len(r.partial) > 0 {
			if _, err := r.become.ProcessLine(r.stream, r.partial, r.stdin); err != nil {
				return nil, err
			}
		}

		if len(r.pending) > 0 && r.become.Completed() {
			continue
		}
		if len(r.pending) > 0 {
			out := r.pending
			r.pending = nil
			return out, nil
		}
	}
}

func (r *becomeReader) Close() error {
	return r.reader.Close()
}

// becomeWriter delays payload writes until the handshake completes
type becomeWriter struct {
	writer resource.Writer
	gate   *completionGate
}

func (w *becomeWriter) Write(data []byte) error {
	w.gate.wait()
	return w.writer.Write(data)
}

func (w *becomeWriter) WriteEOF() error {
	w.gate.wait()
	return w.writer.WriteEOF()
}

func (w *becomeWriter) Close() error {
	return w.writer.Close()
}
