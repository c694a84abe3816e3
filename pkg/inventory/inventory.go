package inventory

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Reserved host variables understood by the engine and its builtin plugins:
// ansible_connection, ansible_become_method, ansible_user, ansible_password,
// ansible_host, ansible_port. ansible_shell is reserved as well, but no
// builtin plugin reads it. Everything else is passed through to plugin
// option resolution untouched.

// Host is one inventory entry: a host name and its variables
type Host struct {
	Name string
	Vars map[string]string
}

// Load parses an INI inventory file with one section per host containing
// key=value variable pairs. Each host's variables gain a synthesized
// inventory_hostname entry.
func Load(path string) ([]Host, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory %q: %w", path, err)
	}

	var hosts []Host
	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}

		vars := section.KeysHash()
		vars["inventory_hostname"] = name

		hosts = append(hosts, Host{Name: name, Vars: vars})
	}

	return hosts, nil
}
