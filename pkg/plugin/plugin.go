package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nitzmahone/relay/pkg/message"
)

// ValidationError reports bad setup input: an unknown plugin name, a missing
// required option, or an ambiguous lookup. The CLI treats it as fatal.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// hostVarByKind maps a plugin kind to the host variable naming the plugin
// chosen for that kind.
var hostVarByKind = map[message.PluginKind]string{
	message.PluginConnection: "ansible_connection",
	message.PluginBecome:     "ansible_become_method",
	message.PluginExec:       "ansible_exec",
}

// optionalKinds are tolerated when their selecting host variable is absent
var optionalKinds = map[message.PluginKind]bool{
	message.PluginBecome: true,
}

// Plugin is implemented by every plugin instance; options resolved at
// request-build time are injected before first use.
type Plugin interface {
	SetOptions(opts map[string]any)
}

// Spec is the compile-time registration record for one plugin: identity,
// declared options (option name to host variable names in preference
// order), the plugin kinds it depends on, and a factory for fresh
// instances.
type Spec struct {
	Name    string
	Kind    message.PluginKind
	Options map[string][]string
	Uses    []message.PluginKind
	New     func() Plugin
}

// ShortName returns the final dot-separated segment of the plugin name
func (s *Spec) ShortName() string {
	idx := strings.LastIndex(s.Name, ".")
	return s.Name[idx+1:]
}

// Registry resolves plugin names to specs and instantiates them. It is
// populated once at startup from explicit registration calls; name
// resolution is table lookup, never runtime discovery.
type Registry struct {
	mu    sync.RWMutex
	specs map[message.PluginKind]map[string]*Spec
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{specs: make(map[message.PluginKind]map[string]*Spec)}
}

// Register adds a spec; duplicate fully qualified names for a kind fail
func (r *Registry) Register(spec *Spec) error {
	if spec.Name == "" || spec.Kind == "" || spec.New == nil {
		return validationErrorf("plugin spec requires name, kind and factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName := r.specs[spec.Kind]
	if byName == nil {
		byName = make(map[string]*Spec)
		r.specs[spec.Kind] = byName
	}

	if _, exists := byName[spec.Name]; exists {
		return validationErrorf("plugin %q already registered for kind %s", spec.Name, spec.Kind)
	}

	byName[spec.Name] = spec
	return nil
}

// MustRegister registers or panics; intended for startup manifests
func (r *Registry) MustRegister(specs ...*Spec) {
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
}

// Lookup resolves a plugin by fully qualified or short name. A short name
// matching more than one registered plugin of the kind is ambiguous.
func (r *Registry) Lookup(kind message.PluginKind, name string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := r.specs[kind]
	if spec, ok := byName[name]; ok {
		return spec, nil
	}

	var matches []*Spec
	for _, spec := range byName {
		if spec.ShortName() == name {
			matches = append(matches, spec)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, validationErrorf("no %s plugin named %q", kind, name)
	default:
		return nil, validationErrorf("%s plugin name %q is ambiguous (%d matches)", kind, name, len(matches))
	}
}

// New instantiates the named plugin and injects its resolved options from
// taskOptions.
func (r *Registry) New(kind message.PluginKind, name string, taskOptions message.TaskOptions) (Plugin, error) {
	spec, err := r.Lookup(kind, name)
	if err != nil {
		return nil, err
	}

	inst := spec.New()
	inst.SetOptions(taskOptions.PluginOptions[spec.Name])
	return inst, nil
}

// BuildTaskOptions resolves the full plugin configuration for one task:
// the entrypoint plugin plus, transitively, every plugin kind it uses,
// walked to a fixed point. Each used kind's plugin is chosen by host
// variable; become is optional, everything else must resolve.
func (r *Registry) BuildTaskOptions(hostVars map[string]string, kind message.PluginKind, name string) (message.TaskOptions, error) {
	opts := message.TaskOptions{
		Plugins:       make(map[message.PluginKind]string),
		PluginOptions: make(map[string]map[string]any),
	}

	entry, err := r.Lookup(kind, name)
	if err != nil {
		return opts, err
	}

	if err := r.addPlugin(&opts, entry, hostVars); err != nil {
		return opts, err
	}

	pending := append([]message.PluginKind(nil), entry.Uses...)
	for len(pending) > 0 {
		usedKind := pending[0]
		pending = pending[1:]

		if _, done := opts.Plugins[usedKind]; done {
			continue
		}

		hostVar, ok := hostVarByKind[usedKind]
		if !ok {
			return opts, validationErrorf("plugin kind %q has no selecting host variable", usedKind)
		}

		pluginName := hostVars[hostVar]
		if pluginName == "" {
			if optionalKinds[usedKind] {
				continue
			}
			return opts, validationErrorf("%s plugin variable %q is not defined on host", usedKind, hostVar)
		}

		used, err := r.Lookup(usedKind, pluginName)
		if err != nil {
			return opts, err
		}

		if err := r.addPlugin(&opts, used, hostVars); err != nil {
			return opts, err
		}
		pending = append(pending, used.Uses...)
	}

	return opts, nil
}

func (r *Registry) addPlugin(opts *message.TaskOptions, spec *Spec, hostVars map[string]string) error {
	resolved, err := resolveOptions(spec, hostVars)
	if err != nil {
		return err
	}

	opts.Plugins[spec.Kind] = spec.Name
	opts.PluginOptions[spec.Name] = resolved
	return nil
}

// resolveOptions fills each declared option from the first matching host
// variable in its preference list. Every declared option is required.
func resolveOptions(spec *Spec, hostVars map[string]string) (map[string]any, error) {
	resolved := make(map[string]any, len(spec.Options))
	for option, sources := range spec.Options {
		found := false
		for _, hostVar := range sources {
			if value, ok := hostVars[hostVar]; ok && value != "" {
				resolved[option] = value
				found = true
				break
			}
		}
		if !found {
			return nil, validationErrorf("missing plugin option value %q for %q", option, spec.Name)
		}
	}
	return resolved, nil
}
