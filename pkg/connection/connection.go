package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// TtyNotSupportedError reports that a connection plugin cannot allocate a
// TTY for a command that requires one.
type TtyNotSupportedError struct {
	Plugin string
}

func (e *TtyNotSupportedError) Error() string {
	return fmt.Sprintf("connection plugin %s does not implement TTY support", e.Plugin)
}

// Process is a handle to a remotely executing command with streaming stdio
type Process interface {
	Stdin() resource.Writer
	Stdout() resource.Reader
	Stderr() resource.Reader

	// RC returns the exit code and whether the process has exited
	RC() (int, bool)

	// WaitForExit blocks until the process exits and returns its exit code
	WaitForExit(ctx context.Context) (int, error)
}

// Connection is a transport against a logical host. Connect and Close are
// idempotent; connections are cached per worker and survive across tasks.
type Connection interface {
	plugin.Plugin

	Connect(ctx context.Context) error
	Close() error

	ExecCommand(ctx context.Context, cmd string, stdin resource.Reader) (stdout, stderr []byte, rc int, err error)
	StreamingExecCommand(ctx context.Context, cmd string) (Process, error)
	StreamingExecCommandWithTty(ctx context.Context, cmd string) (Process, error)

	PutFile(ctx context.Context, src resource.Reader, dstPath string) error
	FetchFile(ctx context.Context, srcPath string, dst resource.Writer) error
}

// RunCommand drives a streaming process to completion: pumps optional stdin
// in, collects stdout and stderr, and waits for exit. Connection plugins
// use it to implement ExecCommand on top of StreamingExecCommand.
func RunCommand(ctx context.Context, proc Process, stdin resource.Reader) (stdoutBytes, stderrBytes []byte, rc int, err error) {
	stdoutW := resource.NewBytesWriter()
	stderrW := resource.NewBytesWriter()

	var wg sync.WaitGroup
	var stdoutErr, stderrErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		stdoutErr = resource.Pump(proc.Stdout(), stdoutW)
	}()
	go func() {
		defer wg.Done()
		stderrErr = resource.Pump(proc.Stderr(), stderrW)
	}()

	if stdin != nil {
		// Stdin pump errors are expected when the command exits without
		// draining its input; the exit code is the signal that matters.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = resource.Pump(stdin, proc.Stdin())
		}()
	} else {
		_ = proc.Stdin().WriteEOF()
	}

	wg.Wait()

	rc, err = proc.WaitForExit(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	if stdoutErr != nil {
		return nil, nil, 0, fmt.Errorf("stdout stream: %w", stdoutErr)
	}
	if stderrErr != nil {
		return nil, nil, 0, fmt.Errorf("stderr stream: %w", stderrErr)
	}

	return stdoutW.Bytes(), stderrW.Bytes(), rc, nil
}
