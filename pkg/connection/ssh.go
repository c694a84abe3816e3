package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// SSHSpec registers the ssh transport
var SSHSpec = &plugin.Spec{
	Name: "relay.connection.ssh",
	Kind: message.PluginConnection,
	Options: map[string][]string{
		"host":     {"ansible_host", "inventory_hostname"},
		"user":     {"ansible_user"},
		"password": {"ansible_password"},
		"port":     {"ansible_port"},
	},
	New: func() plugin.Plugin { return &SSH{} },
}

// SSH executes commands and moves files over a single cached client
// connection, opening a new session for each command.
type SSH struct {
	plugin.OptionSet

	client *ssh.Client
}

func (c *SSH) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	addr := net.JoinHostPort(c.StringOption("host", ""), c.StringOption("port", "22"))

	cfg := &ssh.ClientConfig{
		User:            c.StringOption("user", ""),
		Auth:            []ssh.AuthMethod{ssh.Password(c.StringOption("password", ""))},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("ssh connect to %s failed: %w", addr, err)
	}

	c.client = client
	return nil
}

func (c *SSH) Close() error {
	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	return err
}

func (c *SSH) StreamingExecCommand(ctx context.Context, cmd string) (Process, error) {
	return c.startSession(cmd, false)
}

func (c *SSH) StreamingExecCommandWithTty(ctx context.Context, cmd string) (Process, error) {
	return c.startSession(cmd, true)
}

func (c *SSH) startSession(cmd string, requestTty bool) (Process, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	if requestTty {
		modes := ssh.TerminalModes{ssh.ECHO: 0}
		if err := session.RequestPty("dumb", 24, 80, modes); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to request pty: %w", err)
		}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, err
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start %q: %w", cmd, err)
	}

	return &sshProcess{
		session: session,
		stdin:   resource.NewStreamWriter(stdin),
		stdout:  resource.NewStreamReader(stdout),
		stderr:  resource.NewStreamReader(stderr),
	}, nil
}

func (c *SSH) ExecCommand(ctx context.Context, cmd string, stdin resource.Reader) ([]byte, []byte, int, error) {
	proc, err := c.StreamingExecCommand(ctx, cmd)
	if err != nil {
		return nil, nil, 0, err
	}
	return RunCommand(ctx, proc, stdin)
}

func (c *SSH) PutFile(ctx context.Context, src resource.Reader, dstPath string) error {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("failed to open sftp: %w", err)
	}
	defer client.Close()

	f, err := client.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", dstPath, err)
	}
	defer f.Close()

	return resource.Pump(src, resource.NewStreamWriter(f))
}

func (c *SSH) FetchFile(ctx context.Context, srcPath string, dst resource.Writer) error {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("failed to open sftp: %w", err)
	}
	defer client.Close()

	f, err := client.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", srcPath, err)
	}
	defer f.Close()

	return resource.Pump(resource.NewStreamReader(f), dst)
}

type sshProcess struct {
	session *ssh.Session
	stdin   resource.Writer
	stdout  resource.Reader
	stderr  resource.Reader
	rc      int
	exited  bool
}

func (p *sshProcess) Stdin() resource.Writer  { return p.stdin }
func (p *sshProcess) Stdout() resource.Reader { return p.stdout }
func (p *sshProcess) Stderr() resource.Reader { return p.stderr }

func (p *sshProcess) RC() (int, bool) {
	return p.rc, p.exited
}

func (p *sshProcess) WaitForExit(ctx context.Context) (int, error) {
	err := p.session.Wait()
	defer p.session.Close()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		p.rc = 0
	case errors.As(err, &exitErr):
		p.rc = exitErr.ExitStatus()
	default:
		return 0, err
	}

	p.exited = true
	return p.rc, nil
}
