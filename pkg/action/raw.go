package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/nitzmahone/relay/pkg/become"
	"github.com/nitzmahone/relay/pkg/connection"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// RawSpec registers the raw command action
var RawSpec = &plugin.Spec{
	Name: "relay.action.raw",
	Kind: message.PluginAction,
	Uses: []message.PluginKind{message.PluginConnection, message.PluginBecome},
	New:  func() plugin.Plugin { return &Raw{} },
}

// Raw runs a shell command over the task's connection, wrapping it in the
// become handshake when one is configured.
type Raw struct {
	plugin.OptionSet
}

func (a *Raw) Run(ctx context.Context, task TaskContext) (map[string]any, error) {
	command, _ := task.ActionArgs()["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("raw action requires a command argument")
	}

	b, err := task.Become()
	if err != nil {
		return nil, err
	}

	conn, err := task.Connection(ctx)
	if err != nil {
		return nil, err
	}

	requiresTty := false
	if b != nil {
		command = b.BuildBecomeCommand(command)
		requiresTty = b.RequiresTty()
	}

	var proc connection.Process
	if requiresTty {
		proc, err = conn.StreamingExecCommandWithTty(ctx, command)
	} else {
		proc, err = conn.StreamingExecCommand(ctx, command)
	}
	if err != nil {
		return nil, err
	}

	stdout, stderr, stdin := proc.Stdout(), proc.Stderr(), proc.Stdin()
	if b != nil {
		stdout, stderr, stdin = become.ApplyStdioFilter(b, stdout, stderr, stdin)
	}

	stdoutW := resource.NewBytesWriter()
	stderrW := resource.NewBytesWriter()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = resource.Pump(stdout, stdoutW)
	}()
	go func() {
		defer wg.Done()
		_ = resource.Pump(stderr, stderrW)
	}()

	// The filtered stdin parks until the handshake completes, so EOF is
	// signalled from the side.
	go func() {
		_ = stdin.WriteEOF()
	}()

	wg.Wait()

	rc, err := proc.WaitForExit(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"failed": rc != 0,
		"stdout": string(stdoutW.Bytes()),
		"stderr": string(stderrW.Bytes()),
		"rc":     rc,
	}, nil
}
