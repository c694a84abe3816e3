package plugin

// OptionSet is a reusable options holder for plugin implementations; embed
// it to satisfy the Plugin interface.
type OptionSet struct {
	opts map[string]any
}

// SetOptions replaces the resolved option values
func (o *OptionSet) SetOptions(opts map[string]any) {
	o.opts = opts
}

// Option returns the raw value for name, or nil
func (o *OptionSet) Option(name string) any {
	return o.opts[name]
}

// StringOption returns the value for name as a string, or def when the
// option is absent or not a string.
func (o *OptionSet) StringOption(name, def string) string {
	if v, ok := o.opts[name].(string); ok {
		return v
	}
	return def
}

// BoolOption interprets the option as a boolean; string values "true" and
// "True" count as true, everything else as false.
func (o *OptionSet) BoolOption(name string) bool {
	switch v := o.opts[name].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True"
	default:
		return false
	}
}
