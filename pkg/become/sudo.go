package become

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// SudoSpec registers the sudo escalation method
var SudoSpec = &plugin.Spec{
	Name: "relay.become.sudo",
	Kind: message.PluginBecome,
	Options: map[string][]string{
		"become_user":     {"ansible_become_user"},
		"become_password": {"ansible_become_pass"},
		"requires_tty":    {"ansible_sudo_requires_tty"},
	},
	New: func() plugin.Plugin { return NewSudo() },
}

// Sudo drives the sudo password handshake. A per-instance random id keys
// both the password prompt and the success marker so output from the
// wrapped command can never be mistaken for handshake traffic.
type Sudo struct {
	plugin.OptionSet

	id        string
	prompt    string
	success   string
	completed atomic.Bool
	answered  atomic.Bool
}

// NewSudo returns a sudo plugin with fresh handshake markers
func NewSudo() *Sudo {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to generate sudo handshake id: %v", err))
	}
	id := hex.EncodeToString(buf)

	return &Sudo{
		id:      id,
		prompt:  fmt.Sprintf("[sudo via relay, key=%s] password:", id),
		success: fmt.Sprintf("BECOME-SUCCESS-%s", id),
	}
}

func (s *Sudo) Completed() bool {
	return s.completed.Load()
}

func (s *Sudo) RequiresTty() bool {
	return s.BoolOption("requires_tty")
}

func (s *Sudo) BuildBecomeCommand(cmd string) string {
	user := s.StringOption("become_user", "root")

	flags := ""
	if !s.RequiresTty() {
		flags = "--stdin "
	}

	return fmt.Sprintf("sudo --prompt='%s' %s--user='%s' /bin/sh -c 'echo \"%s\" && %s'",
		s.prompt, flags, user, s.success, cmd)
}

func (s *Sudo) ProcessLine(stream string, line []byte, stdin resource.Writer) ([]byte, error) {
	if bytes.Contains(line, []byte(s.success)) {
		s.completed.Store(true)
		return nil, nil
	}

	if bytes.Equal(line, []byte(s.prompt)) && s.answered.CompareAndSwap(false, true) {
		password := s.StringOption("become_password", "")
		if err := stdin.Write([]byte(password + "\n")); err != nil {
			return nil, fmt.Errorf("failed to write sudo password: %w", err)
		}
	}

	return nil, nil
}
