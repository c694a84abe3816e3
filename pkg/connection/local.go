package connection

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// LocalSpec registers the local subprocess transport
var LocalSpec = &plugin.Spec{
	Name: "relay.connection.local",
	Kind: message.PluginConnection,
	New:  func() plugin.Plugin { return &Local{} },
}

// Local executes commands as subprocesses of the worker through /bin/sh
type Local struct {
	plugin.OptionSet
}

func (c *Local) Connect(ctx context.Context) error { return nil }
func (c *Local) Close() error                      { return nil }

func (c *Local) StreamingExecCommand(ctx context.Context, cmd string) (Process, error) {
	command := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", cmd, err)
	}

	return &localProcess{
		cmd:    command,
		stdin:  resource.NewStreamWriter(stdin),
		stdout: resource.NewStreamReader(stdout),
		stderr: resource.NewStreamReader(stderr),
	}, nil
}

func (c *Local) StreamingExecCommandWithTty(ctx context.Context, cmd string) (Process, error) {
	return nil, &TtyNotSupportedError{Plugin: "local"}
}

func (c *Local) ExecCommand(ctx context.Context, cmd string, stdin resource.Reader) ([]byte, []byte, int, error) {
	proc, err := c.StreamingExecCommand(ctx, cmd)
	if err != nil {
		return nil, nil, 0, err
	}
	return RunCommand(ctx, proc, stdin)
}

func (c *Local) PutFile(ctx context.Context, src resource.Reader, dstPath string) error {
	w, err := resource.CreateFileWriter(dstPath)
	if err != nil {
		return err
	}
	defer w.Close()

	return resource.Pump(src, w)
}

func (c *Local) FetchFile(ctx context.Context, srcPath string, dst resource.Writer) error {
	r, err := resource.OpenFileReader(srcPath)
	if err != nil {
		return err
	}
	defer r.Close()

	return resource.Pump(r, dst)
}

type localProcess struct {
	cmd    *exec.Cmd
	stdin  resource.Writer
	stdout resource.Reader
	stderr resource.Reader
	rc     int
	exited bool
}

func (p *localProcess) Stdin() resource.Writer  { return p.stdin }
func (p *localProcess) Stdout() resource.Reader { return p.stdout }
func (p *localProcess) Stderr() resource.Reader { return p.stderr }

func (p *localProcess) RC() (int, bool) {
	return p.rc, p.exited
}

func (p *localProcess) WaitForExit(ctx context.Context) (int, error) {
	err := p.cmd.Wait()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.rc = 0
	case errors.As(err, &exitErr):
		p.rc = exitErr.ExitCode()
	default:
		return 0, err
	}

	p.exited = true
	return p.rc, nil
}
