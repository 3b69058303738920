package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/output"
)

var confirmTimeout time.Duration

var confirmCmd = &cobra.Command{
	Use:   "confirm NOTIFY_ID...",
	Short: "Acknowledge purchase notifications",
	Long: `Confirms delivered purchase notifications so the market stops
redelivering them. Normally this happens automatically after purchase data
is recorded; this command is for manual recovery.`,
	GroupID: "billing",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		if !sess.svc.ConfirmNotifications(billing.NoInvocation, args) {
			output.Error("could not reach the market")
			return fmt.Errorf("billing request failed")
		}

		// Confirmations produce no event; wait for the queue to drain.
		deadline := time.Now().Add(confirmTimeout)
		for sess.svc.Pending() > 0 {
			if time.Now().After(deadline) {
				output.Error("timed out waiting for the market")
				return fmt.Errorf("confirm not delivered")
			}
			time.Sleep(100 * time.Millisecond)
		}
		output.Success("confirmed %d notification(s)", len(args))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(confirmCmd)
	addTimeoutFlag(confirmCmd, &confirmTimeout)
}
