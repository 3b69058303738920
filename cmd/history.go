package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/db"
	"github.com/marcus/playbill/internal/output"
)

var (
	historyFormat   outputFormat
	historyMarkdown bool
	historyProduct  string
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show the purchase history ledger",
	Long:    `Lists every recorded purchase, newest first, keyed by order id.`,
	GroupID: "ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		entries, err := database.PurchaseHistory()
		if err != nil {
			output.Error("failed to read ledger: %v", err)
			return err
		}

		if historyProduct != "" {
			filtered := entries[:0]
			for _, e := range entries {
				if e.ProductID == historyProduct {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}

		if historyFormat == formatJSON {
			return output.JSON(map[string]any{"history": entries})
		}

		if historyMarkdown {
			rendered, err := output.RenderMarkdown(output.HistoryMarkdown(entries))
			if err != nil {
				return err
			}
			fmt.Println(rendered)
			return nil
		}

		if len(entries) == 0 {
			output.Info("no purchases recorded")
			return nil
		}
		for _, e := range entries {
			fmt.Println(output.FormatHistoryEntry(e))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	addFormatFlag(historyCmd, &historyFormat)
	historyCmd.Flags().BoolVar(&historyMarkdown, "markdown", false, "Render as a markdown table")
	historyCmd.Flags().StringVar(&historyProduct, "product", "", "Only show entries for this product")
}
