package become

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitzmahone/relay/pkg/resource"
)

func newTestSudo(t *testing.T) *Sudo {
	t.Helper()
	s := NewSudo()
	s.SetOptions(map[string]any{
		"become_user":     "root",
		"become_password": "hunter2",
		"requires_tty":    "false",
	})
	return s
}

func TestSudoBuildBecomeCommand(t *testing.T) {
	s := newTestSudo(t)

	cmd := s.BuildBecomeCommand("whoami")
	assert.Contains(t, cmd, "sudo --prompt=")
	assert.Contains(t, cmd, "--stdin")
	assert.Contains(t, cmd, "--user='root'")
	assert.Contains(t, cmd, s.success)
	assert.Contains(t, cmd, "whoami")
}

func TestSudoBuildBecomeCommandTty(t *testing.T) {
	s := newTestSudo(t)
	s.SetOptions(map[string]any{
		"become_user":     "root",
		"become_password": "hunter2",
		"requires_tty":    "true",
	})

	assert.True(t, s.RequiresTty())
	assert.NotContains(t, s.BuildBecomeCommand("id"), "--stdin")
}

func TestSudoHandshake(t *testing.T) {
	s := newTestSudo(t)
	stdin := resource.NewBytesWriter()

	// Prompt arrives without a trailing newline
	out, err := s.ProcessLine("stdout", []byte(s.prompt), stdin)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "hunter2\n", string(stdin.Bytes()))
	assert.False(t, s.Completed())

	// Re-offering the prompt must not re-send the password
	_, err = s.ProcessLine("stdout", []byte(s.prompt), stdin)
	require.NoError(t, err)
	assert.Equal(t, "hunter2\n", string(stdin.Bytes()))

	// Success marker completes the handshake
	_, err = s.ProcessLine("stdout", []byte(s.success), stdin)
	require.NoError(t, err)
	assert.True(t, s.Completed())
}

func TestApplyStdioFilterPassesThroughAfterCompletion(t *testing.T) {
	s := newTestSudo(t)
	procStdin := resource.NewBytesWriter()

	raw := s.prompt + s.success + "\npayload line\n"
	stdout, _, stdin := ApplyStdioFilter(s, resource.NewBytesReader([]byte(raw)), resource.NewBytesReader(nil), procStdin)

	var collected []byte
	for {
		buf, err := stdout.Read(4096)
		require.NoError(t, err)
		if len(buf) == 0 {
			break
		}
		collected = append(collected, buf...)
	}

	assert.True(t, s.Completed())
	assert.Equal(t, "payload line\n", string(collected))

	// Gate is open: payload writes to stdin no longer block
	require.NoError(t, stdin.Write([]byte("post-handshake")))
	assert.Contains(t, string(procStdin.Bytes()), "post-handshake")
}

func TestStdinGateBlocksUntilCompletion(t *testing.T) {
	s := newTestSudo(t)
	procStdin := resource.NewBytesWriter()

	stdout, _, stdin := ApplyStdioFilter(s, resource.NewBytesReader(nil), resource.NewBytesReader(nil), procStdin)

	wrote := make(chan struct{})
	go func() {
		_ = stdin.Write([]byte("early"))
		close(wrote)
	}()

	select {
	case <-wrote:
		t.Fatal("stdin write completed before handshake")
	default:
	}

	// A read observing completion opens the gate and releases the writer
	s.completed.Store(true)
	_, err := stdout.Read(4096)
	require.NoError(t, err)

	<-wrote
	assert.Equal(t, "early", string(procStdin.Bytes()))
}
