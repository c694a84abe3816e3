package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nitzmahone/relay/pkg/blobstore"
	"github.com/nitzmahone/relay/pkg/builtin"
	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/worker"
)

// newWorkerCmd hosts one spawned worker process. The controller re-executes
// its own binary with this hidden subcommand; stdin carries the framed
// input queue and stdout carries the framed result queue.
func newWorkerCmd(global *globalFlags) *cobra.Command {
	var (
		id       string
		workload string
		root     string
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run a relay worker process (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(global, id, workload, root)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "worker id assigned by the pool")
	cmd.Flags().StringVar(&workload, "workload", "", "workload class this worker serves")
	cmd.Flags().StringVar(&root, "root", "", "run temp root shared with the controller")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("workload")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func runWorker(global *globalFlags, id, workload, root string) error {
	// Stdout belongs to the result protocol; all logging goes to the
	// shared debug log under the temp root.
	if err := log.SetupFile(global.logLevel, filepath.Join(root, "debug.log")); err != nil {
		return fmt.Errorf("failed to open debug log: %w", err)
	}

	store, err := blobstore.New(filepath.Join(root, "blobstore"))
	if err != nil {
		return err
	}

	rt := worker.NewRuntime(worker.Config{
		ID:       id,
		Workload: workload,
		Input:    os.Stdin,
		Output:   os.Stdout,
		Store:    store,
		Registry: builtin.Registry(),
	})

	return rt.Run(context.Background())
}
