package action

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/plugin"
	"github.com/nitzmahone/relay/pkg/resource"
)

// ModuleBinarySpec registers the binary module action
var ModuleBinarySpec = &plugin.Spec{
	Name: "relay.action.module-binary",
	Kind: message.PluginAction,
	Uses: []message.PluginKind{message.PluginConnection},
	New:  func() plugin.Plugin { return &ModuleBinary{} },
}

// ModuleBinary pushes a self-contained module executable to the target,
// runs it with a JSON args file, and parses its stdout as the result
// mapping. The executable is staged through the blobstore: the first task
// needing it sends a content sub-request back to the controller, and every
// other task for the same module reuses the generated blob.
type ModuleBinary struct {
	plugin.OptionSet
}

func (a *ModuleBinary) Run(ctx context.Context, task TaskContext) (map[string]any, error) {
	module, _ := task.ActionArgs()["module"].(string)
	if module == "" {
		return nil, fmt.Errorf("module-binary action requires a module argument")
	}
	options := task.ActionArgs()["options"]

	conn, err := task.Connection(ctx)
	if err != nil {
		return nil, err
	}

	binary, err := a.stageModule(ctx, task, module)
	if err != nil {
		return nil, err
	}
	defer binary.Close()

	tmpdir := fmt.Sprintf("/tmp/relay-%s", uuid.New())
	moduleTmp := fmt.Sprintf("%s/%s", tmpdir, filepath.Base(module))
	argsTmp := fmt.Sprintf("%s/args.json", tmpdir)

	if stdout, stderr, rc, err := conn.ExecCommand(ctx, fmt.Sprintf("mkdir -p '%s'", tmpdir), nil); err != nil {
		return nil, err
	} else if rc != 0 {
		return execFailure(fmt.Sprintf("failed to create tempdir at '%s'", tmpdir), stdout, stderr, rc), nil
	}
	defer func() {
		_, _, _, _ = conn.ExecCommand(ctx, fmt.Sprintf("rm -r '%s'", tmpdir), nil)
	}()

	if err := conn.PutFile(ctx, binary, moduleTmp); err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(map[string]any{"MODULE_ARGS": options})
	if err != nil {
		return nil, err
	}
	if err := conn.PutFile(ctx, resource.NewBytesReader(argsJSON), argsTmp); err != nil {
		return nil, err
	}

	if stdout, stderr, rc, err := conn.ExecCommand(ctx, fmt.Sprintf("chmod +x '%s'", moduleTmp), nil); err != nil {
		return nil, err
	} else if rc != 0 {
		return execFailure(fmt.Sprintf("failed to chmod module file at '%s'", moduleTmp), stdout, stderr, rc), nil
	}

	stdout, stderr, rc, err := conn.ExecCommand(ctx, fmt.Sprintf("'%s' '%s'", moduleTmp, argsTmp), nil)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(stdout, &result); err != nil {
		return execFailure(fmt.Sprintf("unknown failure when invoking module: %v", err), stdout, stderr, rc), nil
	}

	return result, nil
}

// stageModule obtains a reader for the module binary, generating the blob
// through a controller sub-request when no other task has staged it yet.
func (a *ModuleBinary) stageModule(ctx context.Context, task TaskContext, module string) (resource.Reader, error) {
	key := "module-" + filepath.Base(module)

	opts := task.TaskOptions().Clone()
	opts.PluginOptions["relay.content.file"] = map[string]any{"path": module}

	req := &message.ContentDescriptorRequest{
		RequestHeader: message.RequestHeader{
			Header:      message.Header{ID: uuid.New()},
			TaskOptions: opts,
		},
		Plugin: "relay.content.file",
		Key:    key,
	}

	desc := blobstore.Descriptor{
		Key: key,
		Create: func() error {
			// Enqueue generation and return; GetDynamic parks on the
			// rendezvous until a content worker publishes the blob.
			go func() {
				l := log.WithTaskID(req.TaskID().String())
				if res, err := task.SendMessage(ctx, req); err != nil {
					l.Error().Err(err).Msg("content sub-request failed")
				} else if res.Failed() {
					l.Error().
						Interface("result", res.Result).Msg("content generation reported failure")
				}
			}()
			return nil
		},
	}

	return task.Store().GetDynamic(ctx, desc)
}

func execFailure(msg string, stdout, stderr []byte, rc int) map[string]any {
	return map[string]any{
		"failed": true,
		"msg":    msg,
		"rc":     rc,
		"stdout": string(stdout),
		"stderr": string(stderr),
	}
}
