package action

import (
	"context"
	"fmt"

	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// UploadSpec registers the upload action
var UploadSpec = &plugin.Spec{
	Name: "relay.action.upload",
	Kind: message.PluginAction,
	Uses: []message.PluginKind{message.PluginConnection},
	New:  func() plugin.Plugin { return &Upload{} },
}

// Upload copies a worker-local file to a path on the task's target
type Upload struct {
	plugin.OptionSet
}

func (a *Upload) Run(ctx context.Context, task TaskContext) (map[string]any, error) {
	src, _ := task.ActionArgs()["src"].(string)
	dst, _ := task.ActionArgs()["dst"].(string)
	if src == "" || dst == "" {
		return nil, fmt.Errorf("upload action requires src and dst arguments")
	}

	conn, err := task.Connection(ctx)
	if err != nil {
		return nil, err
	}

	r, err := resource.OpenFileReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := conn.PutFile(ctx, r, dst); err != nil {
		return nil, err
	}

	return map[string]any{"changed": true}, nil
}

// DownloadSpec registers the download action
var DownloadSpec = &plugin.Spec{
	Name: "relay.action.download",
	Kind: message.PluginAction,
	Uses: []message.PluginKind{message.PluginConnection},
	New:  func() plugin.Plugin { return &Download{} },
}

// Download copies a path on the task's target to a worker-local file
type Download struct {
	plugin.OptionSet
}

func (a *Download) Run(ctx context.Context, task TaskContext) (map[string]any, error) {
	src, _ := task.ActionArgs()["src"].(string)
	dst, _ := task.ActionArgs()["dst"].(string)
	if src == "" || dst == "" {
		return nil, fmt.Errorf("download action requires src and dst arguments")
	}

	conn, err := task.Connection(ctx)
	if err != nil {
		return nil, err
	}

	w, err := resource.CreateFileWriter(dst)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := conn.FetchFile(ctx, src, w); err != nil {
		return nil, err
	}

	return map[string]any{"changed": true}, nil
}
