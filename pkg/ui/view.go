package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
)

type styles struct {
	question   lipgloss.Style
	answer     lipgloss.Style
	draft      lipgloss.Style
	attachment lipgloss.Style
	status     lipgloss.Style
	errLine    lipgloss.Style
	inputBox   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		question:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		answer:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		draft:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
		attachment: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		status:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		errLine:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		inputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")),
	}
}

// renderMessageList renders the messages and returns the starting row of
// each one, so jumps can land on a message's first line.
func (m Model) renderMessageList(msgs []*history.Message) (string, []int) {
	var b strings.Builder
	var tops []int
	line := 0
	countLines := func(s string) int { return strings.Count(s, "\n") }
	for _, msg := range msgs {
		tops = append(tops, line)
		b.WriteString(m.styles.question.Render("You: " + msg.Question))
		b.WriteString("\n")
		if msg.Attachment != nil {
			label := msg.Attachment.Name
			if label == "" {
				label = msg.Attachment.URL
			}
			b.WriteString(m.styles.attachment.Render("  [" + msg.Attachment.Type + "] " + label))
			b.WriteString("\n")
		}
		switch {
		case msg.Draft() && msg.Answer == "":
			b.WriteString(m.styles.draft.Render("..."))
		case msg.Draft():
			b.WriteString(m.styles.answer.Render(msg.Answer))
			b.WriteString(m.styles.draft.Render(" ▌"))
		default:
			b.WriteString(m.styles.answer.Render(msg.Answer))
		}
		b.WriteString("\n\n")
		line = countLines(b.String())
	}
	return b.String(), tops
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	statusLine := m.styles.status.Render(
		m.sess.ConversationID() + " · " + m.connectionLabel())
	if m.lastErr != nil {
		statusLine += "  " + m.styles.errLine.Render(m.lastErr.Error())
	}

	return m.vp.View() + "\n" +
		statusLine + "\n" +
		m.styles.inputBox.Render(m.ta.View())
}
