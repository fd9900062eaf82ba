package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
)

func chargeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charge <Invoice|PaymentRequest> <id>",
		Short: "Charge a payable through its customer's gateway",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := model.NewPayableRef(args[0], args[1])
			if err != nil {
				return err
			}
			inline, _ := cmd.Flags().GetBool("inline")

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if inline {
				res, err := a.initiator.Charge(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return enc.Encode(res)
			}
			taskID, err := a.queue.Enqueue(cmd.Context(), adapter.TaskPaymentCharge, adapter.ChargeTaskPayload{
				PayableType: string(ref.Type),
				PayableID:   ref.ID,
			}, "charge:"+ref.String())
			if err != nil {
				return err
			}
			return enc.Encode(map[string]any{"task_id": taskID, "deduplicated": taskID == ""})
		},
	}
	cmd.Flags().Bool("inline", false, "send the charge from this process instead of enqueueing it")
	return cmd
}
