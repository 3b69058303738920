package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/models"
	"github.com/marcus/playbill/internal/output"
)

var restoreTimeout time.Duration

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replay all prior transactions into the local ledger",
	Long: `Asks the market to resend purchase state for every transaction this
device has made. Useful after reinstalling or wiping the ledger.`,
	GroupID: "billing",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		if !sess.svc.RestoreTransactions() {
			output.Error("could not reach the market")
			return fmt.Errorf("billing request failed")
		}

		restored := 0
		var code *models.ResponseCode
		err = sess.drainEvents(restoreTimeout, 2*time.Second, func(ev billing.Event) {
			switch e := ev.(type) {
			case billing.RestoreTransactionsResponse:
				c := e.Code
				code = &c
			case billing.PurchaseStateChange:
				restored++
				output.Info("%s %s (owned x%d)", e.State, e.ProductID, e.Quantity)
			}
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if code != nil && *code != models.ResultOK {
			output.Error("restore failed: %s", *code)
			return fmt.Errorf("restore failed: %s", *code)
		}
		output.Success("restored %d purchase(s)", restored)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	addTimeoutFlag(restoreCmd, &restoreTimeout)
}
