// Package builtin assembles the plugin registry shipped with the engine.
// Registration is an explicit compile-time manifest: both the controller
// and re-executed worker processes call Registry and resolve plugins by
// table lookup.
package builtin

import (
	"github.com/nitzmahone/relay/pkg/action"
	"github.com/nitzmahone/relay/pkg/become"
	"github.com/nitzmahone/relay/pkg/connection"
	"github.com/nitzmahone/relay/pkg/content"
	"github.com/nitzmahone/relay/pkg/plugin"
)

// Registry returns a registry populated with every builtin plugin
func Registry() *plugin.Registry {
	r := plugin.NewRegistry()
	r.MustRegister(
		connection.LocalSpec,
		connection.SSHSpec,
		become.SudoSpec,
		action.RawSpec,
		action.UploadSpec,
		action.DownloadSpec,
		action.ModuleBinarySpec,
		content.FileSpec,
	)
	return r
}
