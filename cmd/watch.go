package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/output"
	"github.com/marcus/playbill/internal/tui/watch"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live TUI over the ledger and billing events",
	Long: `Launch a live-updating TUI dashboard showing:
- Owned items: the ownership projection from the ledger
- Events: billing events as the market delivers them
- History: recent ledger entries

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k, ↑/↓       Scroll active panel
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		// Kick the connection so events start flowing.
		sess.svc.CheckBillingSupported("inapp")

		if watchInterval < 500*time.Millisecond {
			watchInterval = 2 * time.Second
		}

		model := watch.NewModel(sess.database, sess.svc, watchInterval)
		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running watch: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Ledger refresh interval")
}
