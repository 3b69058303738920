package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/playbill/internal/models"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	connectedStyle    = lipgloss.NewStyle().Foreground(successColor)
	disconnectedStyle = lipgloss.NewStyle().Foreground(warningColor)

	// Purchase state styles
	stateStyles = map[models.PurchaseState]lipgloss.Style{
		models.StatePurchased: lipgloss.NewStyle().Foreground(successColor),
		models.StateCanceled:  lipgloss.NewStyle().Foreground(warningColor),
		models.StateRefunded:  lipgloss.NewStyle().Foreground(secondaryColor),
	}
)

// formatState renders a purchase state with color
func formatState(s models.PurchaseState) string {
	style, ok := stateStyles[s]
	if !ok {
		return s.String()
	}
	return style.Render(s.String())
}
