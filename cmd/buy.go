package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/models"
	"github.com/marcus/playbill/internal/output"
)

var (
	buyItemType string
	buyPayload  string
	buyYes      bool
	buyNoWait   bool
	buyTimeout  time.Duration
)

var buyCmd = &cobra.Command{
	Use:   "buy ITEM_ID",
	Short: "Purchase an item",
	Long: `Requests a purchase from the market and waits for the outcome.

The market hands back a purchase flow token, then reports the result
asynchronously. Reserved test item ids (android.test.purchased and
friends) exercise each outcome against a sandbox server.`,
	GroupID: "billing",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID := args[0]

		if !buyYes {
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Purchase %s?", itemID)).
					Description(fmt.Sprintf("Item type: %s", buyItemType)).
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				output.Info("aborted")
				return nil
			}
		}

		sess, err := openSession(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		if !sess.svc.RequestPurchase(itemID, buyItemType, buyPayload) {
			output.Error("could not reach the market")
			return fmt.Errorf("billing request failed")
		}
		if buyNoWait {
			output.Info("purchase requested for %s", itemID)
			return nil
		}

		var failed models.ResponseCode
		err = sess.waitEvents(buyTimeout, func(ev billing.Event) bool {
			switch e := ev.(type) {
			case billing.StartPurchaseFlow:
				if e.ProductID == itemID {
					output.Info("purchase flow started (token %s)", e.FlowToken)
				}
			case billing.RequestPurchaseResponse:
				if e.ProductID != itemID {
					return false
				}
				if e.Code != models.ResultOK {
					failed = e.Code
					return true
				}
				output.Info("market accepted the purchase, waiting for purchase data...")
			case billing.PurchaseStateChange:
				if e.ProductID != itemID {
					return false
				}
				output.Success("%s %s (owned x%d)", e.State, e.ProductID, e.Quantity)
				return true
			}
			return false
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if failed != models.ResultOK {
			output.Error("purchase failed: %s", failed)
			return fmt.Errorf("purchase failed: %s", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buyCmd)
	buyCmd.Flags().StringVar(&buyItemType, "type", "inapp", "Item type (inapp or subs)")
	buyCmd.Flags().StringVar(&buyPayload, "payload", "", "Developer payload attached to the purchase")
	buyCmd.Flags().BoolVarP(&buyYes, "yes", "y", false, "Skip the confirmation prompt")
	buyCmd.Flags().BoolVar(&buyNoWait, "no-wait", false, "Fire the request without waiting for the outcome")
	addTimeoutFlag(buyCmd, &buyTimeout)
}
