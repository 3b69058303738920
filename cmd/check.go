package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/output"
)

var (
	checkItemType string
	checkTimeout  time.Duration
	checkFormat   outputFormat
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether the market supports in-app billing",
	GroupID: "billing",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		if !sess.svc.CheckBillingSupported(checkItemType) {
			output.Error("could not reach the market")
			return fmt.Errorf("billing request failed")
		}

		var supported bool
		err = sess.waitEvents(checkTimeout, func(ev billing.Event) bool {
			if e, ok := ev.(billing.BillingSupported); ok {
				supported = e.Supported
				return true
			}
			return false
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if checkFormat == formatJSON {
			return output.JSON(map[string]any{"supported": supported, "item_type": checkItemType})
		}
		if supported {
			output.Success("billing supported (%s)", checkItemType)
		} else {
			output.Warning("billing not supported (%s)", checkItemType)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkItemType, "type", "inapp", "Item type to check (inapp or subs)")
	addTimeoutFlag(checkCmd, &checkTimeout)
	addFormatFlag(checkCmd, &checkFormat)
}
