package main

import (
	"github.com/spf13/cobra"
)

func workerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the task queue: webhook events, charges, provider customers and notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.Queue.InMemoryQueue {
				a.log.Warn().Msg("queue.in_memory is set: this worker only sees tasks it enqueues itself; use serve instead")
			}
			return a.runWorker(cmd.Context())
		},
	}
}
