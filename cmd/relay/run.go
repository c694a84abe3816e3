package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/builtin"
	"github.com/nitzmahone/relay/pkg/config"
	"github.com/nitzmahone/relay/pkg/events"
	"github.com/nitzmahone/relay/pkg/inventory"
	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/manager"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/metrics"
	"github.com/nitzmahone/relay/pkg/pool"
	"github.com/nitzmahone/relay/pkg/storage"
)

// runOptions carries the run subcommand's flag values
type runOptions struct {
	action      string
	command     string
	module      string
	moduleArgs  string
	extraArgs   []string
	configPath  string
	metricsAddr string
	keepTemp    bool
}

func newRunCmd(global *globalFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <inventory>",
		Short: "Run an action against every host in an inventory",
		Long: `Parses an INI inventory ([host] sections of key=value variables),
resolves the plugin configuration for each host, dispatches one action per
host through the worker pools, and prints each host's result as a JSON
line. Exits non-zero only on fatal controller-level errors; per-host task
failures are reported in the results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(global, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.action, "action", "raw", "action plugin to run on each host")
	cmd.Flags().StringVar(&opts.command, "command", "", "command for the raw action (shorthand for --arg command=...)")
	cmd.Flags().StringVar(&opts.module, "module", "", "module binary path for the module-binary action")
	cmd.Flags().StringVar(&opts.moduleArgs, "module-args", "", "JSON options object for the module-binary action")
	cmd.Flags().StringArrayVar(&opts.extraArgs, "arg", nil, "additional action argument as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "engine config file (YAML)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.keepTemp, "keep-temp", false, "keep the run's temp directory for debugging")

	return cmd
}

func runRun(global *globalFlags, opts *runOptions, inventoryPath string) error {
	logger := log.WithComponent("cli")

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}

	metrics.Register()
	if opts.metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(opts.metricsAddr, metrics.Handler()); err != nil {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	hosts, err := inventory.Load(inventoryPath)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		return fmt.Errorf("inventory %q contains no hosts", inventoryPath)
	}

	actionName, actionArgs, err := buildActionArgs(opts)
	if err != nil {
		return err
	}

	root, err := os.MkdirTemp("", "relay-")
	if err != nil {
		return fmt.Errorf("failed to create temp root: %w", err)
	}
	if opts.keepTemp {
		logger.Info().Str("root", root).Msg("keeping temp root")
	} else {
		defer os.RemoveAll(root)
	}

	store, err := blobstore.New(filepath.Join(root, "blobstore"),
		blobstore.WithWaitTimeout(cfg.BlobStore.WaitTimeout.Std()))
	if err != nil {
		return err
	}

	sweeper := blobstore.NewSweeper(store, cfg.BlobStore.SweepInterval.Std(), cfg.BlobStore.LockMaxAge.Std())
	sweeper.Start()
	defer sweeper.Stop()

	bus := events.NewBus()
	defer bus.Close()
	eventLogger := log.WithComponent("events")
	bus.Notify(func(ev events.Event) {
		eventLogger.Debug().
			Str("type", string(ev.Type)).
			Fields(map[string]any{"fields": ev.Fields}).
			Msg(ev.Message)
	})

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own binary: %w", err)
	}

	tm := manager.New(manager.Config{
		Spawner:           &pool.ProcessSpawner{Binary: binary, Root: root, LogLevel: global.logLevel},
		Events:            bus,
		ContentWorkers:    cfg.Pools.ContentWorkers,
		ConnectionWorkers: cfg.Pools.ConnectionWorkers,
	})
	defer tm.Shutdown()

	journal, err := storage.Open(filepath.Join(root, "results.db"))
	if err != nil {
		return err
	}
	defer journal.Close()

	registry := builtin.Registry()
	hostByTask := make(map[uuid.UUID]string, len(hosts))

	for _, host := range hosts {
		taskOpts, err := registry.BuildTaskOptions(host.Vars, message.PluginAction, actionName)
		if err != nil {
			return fmt.Errorf("host %s: %w", host.Name, err)
		}

		req := &message.ActionRequest{
			RequestHeader: message.NewRequestHeader(taskOpts),
			Action:        actionName,
			ActionArgs:    actionArgs,
		}

		hostByTask[req.TaskID()] = host.Name
		if err := tm.Queue(req, true); err != nil {
			return fmt.Errorf("host %s: %w", host.Name, err)
		}
	}

	failures := 0
	for {
		task, ok := tm.Get()
		if !ok {
			break
		}

		original := tm.GetOriginalTask(task)
		host := "unknown"
		if original != nil {
			host = hostByTask[original.TaskID()]
		}

		result := resultMapping(task)
		if failed, _ := result["failed"].(bool); failed {
			failures++
		}

		line, err := json.Marshal(result)
		if err != nil {
			logger.Error().Err(err).Msg("failed to render result")
			line = []byte("{}")
		}
		fmt.Printf("[%s] %s\n", host, line)

		if err := journal.RecordResult(&storage.Record{
			TaskID: task.TaskID().String(),
			Host:   host,
			Kind:   string(task.Kind()),
			Result: result,
		}); err != nil {
			logger.Error().Err(err).Msg("failed to journal result")
		}

		tm.Finish(task.TaskID())
	}

	logger.Info().Int("hosts", len(hosts)).Int("failures", failures).Msg("run complete")
	return nil
}

// resultMapping flattens any terminal result variant into the mapping shape
// callers consume.
func resultMapping(task message.Task) map[string]any {
	switch t := task.(type) {
	case *message.TaskResult:
		return t.Result
	case *message.TaskFailedResult:
		return t.AsResult()
	default:
		return map[string]any{"failed": true, "msg": fmt.Sprintf("unexpected result kind %s", task.Kind())}
	}
}

func buildActionArgs(opts *runOptions) (string, map[string]any, error) {
	args := map[string]any{}

	for _, kv := range opts.extraArgs {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return "", nil, fmt.Errorf("bad --arg %q, want key=value", kv)
		}
		args[key] = value
	}

	if opts.command != "" {
		args["command"] = opts.command
	}

	if opts.module != "" {
		args["module"] = opts.module

		options := map[string]any{}
		if opts.moduleArgs != "" {
			if err := json.Unmarshal([]byte(opts.moduleArgs), &options); err != nil {
				return "", nil, fmt.Errorf("bad --module-args: %w", err)
			}
		}
		args["options"] = options
	}

	return opts.action, args, nil
}
