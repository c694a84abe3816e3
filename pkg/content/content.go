package content

import (
	"context"
	"fmt"

	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// Plugin generates blobstore content on demand. Generate runs inside a
// content worker and must publish through the store's DynamicContext so
// waiters observe either complete content or a recorded error.
type Plugin interface {
	plugin.Plugin
	Generate(ctx context.Context, store *blobstore.Store, key string) error
}

// FileSpec registers the file staging content plugin
var FileSpec = &plugin.Spec{
	Name: "relay.content.file",
	Kind: message.PluginContent,
	Options: map[string][]string{
		// path is injected by the requesting action, not resolved from
		// host variables.
	},
	New: func() plugin.Plugin { return &File{} },
}

// File stages a controller-local file into the blobstore under the
// requested key. The source path arrives through the request's plugin
// options.
type File struct {
	plugin.OptionSet
}

func (f *File) Generate(ctx context.Context, store *blobstore.Store, key string) error {
	path := f.StringOption("path", "")
	if path == "" {
		return fmt.Errorf("file content plugin requires a path option")
	}

	return store.DynamicContext(key, func(w resource.Writer) error {
		r, err := resource.OpenFileReader(path)
		if err != nil {
			return err
		}
		defer r.Close()

		return resource.Pump(r, w)
	})
}
