package ui

import (
	"fmt"
	"strings"

	"fibhost/internal/binding"

	"github.com/charmbracelet/glamour"
)

// BindingsMarkdown describes the registered exports as a markdown document.
func BindingsMarkdown(exports []binding.Export, importPath string) string {
	var sb strings.Builder
	sb.WriteString("# Bindings\n\n")
	fmt.Fprintf(&sb, "Scripts import these from `%s`.\n\n", importPath)
	sb.WriteString("| Name | Script symbol | Signature |\n")
	sb.WriteString("|------|---------------|-----------|\n")
	for _, e := range exports {
		fmt.Fprintf(&sb, "| `%s` | `%s` | `%s` |\n", e.Name, e.Symbol, e.Signature)
	}
	return sb.String()
}

// RenderMarkdown renders markdown for the terminal, picking a glamour style
// that matches the theme.
func RenderMarkdown(md string, theme Theme, width int) (string, error) {
	style := glamour.WithStylePath("light")
	if theme.IsDark {
		style = glamour.WithStylePath("dark")
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return renderer.Render(md)
}
