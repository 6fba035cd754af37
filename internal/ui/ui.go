// Package ui holds terminal styling for the confsync CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// Colors
	Green  = lipgloss.Color("#10B981")
	Red    = lipgloss.Color("#EF4444")
	Amber  = lipgloss.Color("#F59E0B")
	Blue   = lipgloss.Color("#60A5FA")
	Muted  = lipgloss.Color("#6B7280")
	Purple = lipgloss.Color("#7C3AED")

	pass   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	fail   = lipgloss.NewStyle().Foreground(Red).Bold(true)
	warn   = lipgloss.NewStyle().Foreground(Amber)
	accent = lipgloss.NewStyle().Foreground(Blue)
	dim    = lipgloss.NewStyle().Foreground(Muted)

	Title = lipgloss.NewStyle().Bold(true).Foreground(Purple)

	colorEnabled = termenv.EnvColorProfile() != termenv.Ascii
)

// RenderPass styles text as a success marker.
func RenderPass(s string) string {
	if !colorEnabled {
		return s
	}
	return pass.Render(s)
}

// RenderFail styles text as a failure marker.
func RenderFail(s string) string {
	if !colorEnabled {
		return s
	}
	return fail.Render(s)
}

// RenderWarn styles text as a warning.
func RenderWarn(s string) string {
	if !colorEnabled {
		return s
	}
	return warn.Render(s)
}

// RenderAccent styles text as highlighted detail.
func RenderAccent(s string) string {
	if !colorEnabled {
		return s
	}
	return accent.Render(s)
}

// RenderDim styles text as secondary detail.
func RenderDim(s string) string {
	if !colorEnabled {
		return s
	}
	return dim.Render(s)
}
