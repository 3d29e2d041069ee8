package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/cropchat/pkg/types"
)

// View renders the entire popup.
func (m *model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.buildHeader(),
		m.buildStatus(),
		m.buildIndicator(),
		m.viewport.View(),
		m.buildInputBox(),
		m.buildBottomBar(),
	)
}

func (m *model) buildHeader() string {
	return headerStyle.Render(" ✂ cropchat") + tipsStyle.Render("  select part of the page, ask about it")
}

// buildStatus renders the status line in the color of its kind.
func (m *model) buildStatus() string {
	text := m.status.Text
	if text == "" {
		return statusBarStyle.Render(" ")
	}

	switch m.status.Kind {
	case types.StatusLoading:
		return statusBarStyle.Render(loadingStyle.Render(fmt.Sprintf("%s %s", m.spinner.View(), text)))
	case types.StatusError:
		return statusBarStyle.Render(errorStyle.Render(text))
	case types.StatusSuccess:
		return statusBarStyle.Render(successStyle.Render(text))
	default:
		return statusBarStyle.Render(infoStyle.Render(text))
	}
}

func (m *model) buildIndicator() string {
	if !m.hasImage {
		return indicatorStyle.Render(tipsStyle.Render("No image yet - press Ctrl+S to crop"))
	}
	return indicatorStyle.Render("● Image ready for questions")
}

func (m *model) buildInputBox() string {
	width := m.width - 4
	if m.disabled != "" {
		return disabledBoxStyle.Width(width).Render(m.disabled)
	}
	if m.confirmClear {
		return inputBoxStyle.Width(width).Render(errorStyle.Render("Clear the conversation and image? (y/n)"))
	}
	return inputBoxStyle.Width(width).Render(m.input.View())
}

func (m *model) buildBottomBar() string {
	help := "Ctrl+S crop • Enter send • Ctrl+K API key • Ctrl+Y copy reply • Ctrl+L clear • Esc quit"
	if m.keyMode {
		help = "Enter save key • Esc back"
	}
	return statusBarStyle.Width(m.width).Render(help)
}

// renderDialogue renders every turn, wrapped to the viewport width.
func (m *model) renderDialogue() string {
	if len(m.turns) == 0 {
		return tipsStyle.Render("Crop part of the page to start a conversation.")
	}

	width := m.viewport.Width - 2
	if width < 20 {
		width = 20
	}
	body := messageStyle.Width(width)

	var b strings.Builder
	for i, turn := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if turn.Role == types.RoleAssistant {
			b.WriteString(assistantStyle.Render("Assistant"))
		} else {
			b.WriteString(userStyle.Render("You"))
			if turn.Image != nil && !turn.Image.IsEmpty() {
				b.WriteString(" ")
				b.WriteString(imageTagStyle.Render(fmt.Sprintf("[image, %d bytes]", turn.Image.Len())))
			}
		}
		b.WriteString("\n")
		b.WriteString(body.Render(turn.Text))
	}
	return b.String()
}
