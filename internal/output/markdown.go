package output

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// History tables are narrow; wrapping wider than this just pads the rows.
const (
	maxTableWidth = 100
	minTableWidth = 40
)

// RenderMarkdown renders a markdown receipt table using Glamour, wrapped to
// the terminal.
func RenderMarkdown(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(tableWidth()),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}

// tableWidth clamps the detected terminal width to the range that renders
// history tables legibly. COLUMNS covers non-tty output (pipes, CI).
func tableWidth() int {
	width := 0
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	} else if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			width = parsed
		}
	}

	switch {
	case width == 0:
		return maxTableWidth
	case width < minTableWidth:
		return minTableWidth
	case width > maxTableWidth:
		return maxTableWidth
	}
	return width
}
