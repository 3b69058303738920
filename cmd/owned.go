package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/db"
	"github.com/marcus/playbill/internal/output"
)

var ownedFormat outputFormat

var ownedCmd = &cobra.Command{
	Use:     "owned",
	Aliases: []string{"ls"},
	Short:   "List currently owned items",
	Long:    `Shows the ownership projection derived from the purchase ledger.`,
	GroupID: "ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		items, err := database.AllPurchasedItems()
		if err != nil {
			output.Error("failed to read ledger: %v", err)
			return err
		}

		if ownedFormat == formatJSON {
			return output.JSON(map[string]any{"items": items})
		}

		if len(items) == 0 {
			output.Info("nothing owned")
			return nil
		}
		for _, item := range items {
			fmt.Println(output.FormatOwnedItem(item))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ownedCmd)
	addFormatFlag(ownedCmd, &ownedFormat)
}
