// Package output provides styled terminal output helpers (success, error,
// purchase formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/playbill/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stateStyles  = map[models.PurchaseState]lipgloss.Style{
		models.StatePurchased: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StateCanceled:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StateRefunded:  lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeNotConnected  = "not_connected"
	ErrCodeTimeout       = "timeout"
	ErrCodeDatabaseError = "database_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// FormatState formats a purchase state with color
func FormatState(s models.PurchaseState) string {
	style, ok := stateStyles[s]
	if !ok {
		return fmt.Sprintf("[%s]", s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatCode formats a market response code, coloring failures
func FormatCode(c models.ResponseCode) string {
	if c == models.ResultOK {
		return successStyle.Render(c.String())
	}
	return errorStyle.Render(c.String())
}

// FormatPurchaseTime renders an epoch-millis purchase timestamp in local time
func FormatPurchaseTime(millis int64) string {
	return time.UnixMilli(millis).Local().Format("2006-01-02 15:04")
}

// FormatOwnedItem formats one row of the ownership projection
func FormatOwnedItem(item models.PurchasedItem) string {
	return fmt.Sprintf("%s  %s", titleStyle.Render(item.ProductID), subtleStyle.Render(fmt.Sprintf("x%d", item.Quantity)))
}

// FormatHistoryEntry formats one ledger row in short form
func FormatHistoryEntry(e models.HistoryEntry) string {
	var parts []string
	parts = append(parts, subtleStyle.Render(FormatPurchaseTime(e.PurchaseTime)))
	parts = append(parts, titleStyle.Render(e.ProductID))
	parts = append(parts, FormatState(e.State))
	parts = append(parts, subtleStyle.Render(e.OrderID))
	if e.DeveloperPayload != "" {
		parts = append(parts, e.DeveloperPayload)
	}
	return strings.Join(parts, "  ")
}

// StateBadge returns a purchase state indicator with symbol
// e.g., "✓ purchased", "✗ canceled", "↩ refunded"
func StateBadge(state models.PurchaseState) string {
	symbols := map[models.PurchaseState]string{
		models.StatePurchased: "✓",
		models.StateCanceled:  "✗",
		models.StateRefunded:  "↩",
	}
	symbol, ok := symbols[state]
	if !ok {
		symbol = "?"
	}
	style, hasStyle := stateStyles[state]
	if hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, state))
	}
	return fmt.Sprintf("%s %s", symbol, state)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPURCHASES:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// HistoryMarkdown renders the ledger as a markdown table, for the
// --markdown history view.
func HistoryMarkdown(entries []models.HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString("# Purchase History\n\n")
	if len(entries) == 0 {
		sb.WriteString("_No purchases recorded._\n")
		return sb.String()
	}
	sb.WriteString("| Time | Product | State | Order |\n")
	sb.WriteString("|------|---------|-------|-------|\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | `%s` |\n",
			FormatPurchaseTime(e.PurchaseTime), e.ProductID, e.State, e.OrderID))
	}
	return sb.String()
}
