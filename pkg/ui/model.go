// Package ui is the terminal chat client: a bubbletea program rendering the
// active conversation with a viewport over the message history and a
// textarea for composing questions.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/scroll"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/session"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
)

// sessionUpdatedMsg signals that the message list or streaming state
// changed.
type sessionUpdatedMsg struct{}

// frameTickMsg drives the capped-rate re-render during streaming.
type frameTickMsg time.Time

// submitResultMsg carries the outcome of a question submission.
type submitResultMsg struct {
	err error
}

// Model is the bubbletea model for one chat surface.
type Model struct {
	sess    *session.Session
	updates <-chan struct{}

	vp       viewport.Model
	ta       textarea.Model
	coord    *scroll.Coordinator
	throttle *renderThrottle
	styles   styles

	width   int
	height  int
	ready   bool
	msgTops []int
	msgIDs  []string
	lastErr error
}

// ScrollToMessageMsg asks the model to scroll the viewport to the first line
// of the message with the given id.
type ScrollToMessageMsg struct {
	ID string
}

// NewModel builds the chat model around an opened session. updates must be
// the channel fed by the session's OnUpdate callback.
func NewModel(sess *session.Session, updates <-chan struct{}) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask a question..."
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	return Model{
		sess:     sess,
		updates:  updates,
		ta:       ta,
		coord:    scroll.NewCoordinator(),
		throttle: newRenderThrottle(),
		styles:   defaultStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForUpdate(), frameTick())
}

func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-m.updates; !ok {
			return nil
		}
		return sessionUpdatedMsg{}
	}
}

func frameTick() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return frameTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chromeHeight := m.ta.Height() + 3
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - chromeHeight
		}
		m.ta.SetWidth(msg.Width - 2)
		m.renderMessages()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			question := m.ta.Value()
			if question != "" && !m.sess.IsStreaming() {
				m.ta.Reset()
				m.lastErr = nil
				cmds = append(cmds, m.submit(question))
			}
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			cmds = append(cmds, cmd)
			m.coord.ObserveUserScroll(m.metrics())
		case "home":
			// Jump to the top of the newest message, always honored.
			if n := len(m.msgIDs); n > 0 {
				m.ScrollToMessageTop(m.msgIDs[n-1])
			}
		case "end":
			m.vp.GotoBottom()
			m.coord.ObserveJump(m.metrics())
		default:
			var cmd tea.Cmd
			m.ta, cmd = m.ta.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		cmds = append(cmds, cmd)
		m.coord.ObserveUserScroll(m.metrics())

	case sessionUpdatedMsg:
		m.throttle.MarkDirty()
		if !m.sess.IsStreaming() {
			// Stream boundaries render immediately so the final text never
			// waits a frame.
			m.throttle.Force()
			m.renderMessages()
		}
		cmds = append(cmds, m.waitForUpdate())

	case frameTickMsg:
		if m.throttle.ShouldRender() {
			m.renderMessages()
		}
		cmds = append(cmds, frameTick())

	case ScrollToMessageMsg:
		m.ScrollToMessageTop(msg.ID)

	case submitResultMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			log.Warn().Err(msg.err).Str("component", "ui").Msg("question submission failed")
		}
		m.renderMessages()
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) submit(question string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := sess.SendQuestion(ctx, question, nil)
		return submitResultMsg{err: err}
	}
}

func (m *Model) metrics() scroll.Metrics {
	return scroll.Metrics{
		Offset:        m.vp.YOffset,
		Height:        m.vp.Height,
		ContentHeight: m.vp.TotalLineCount(),
	}
}

// ScrollToMessageTop moves the viewport to the first line of the message
// with the given id and reports whether the message was found. The jump is
// honored regardless of follow state; following resumes only when the jump
// lands near the bottom.
func (m *Model) ScrollToMessageTop(id string) bool {
	for i, msgID := range m.msgIDs {
		if msgID != id {
			continue
		}
		m.vp.SetYOffset(m.msgTops[i])
		m.coord.ObserveJump(m.metrics())
		return true
	}
	return false
}

// renderMessages rebuilds the viewport content and follows the bottom edge
// unless the reader has scrolled away.
func (m *Model) renderMessages() {
	if !m.ready {
		return
	}
	msgs := m.sess.Messages()
	content, tops := m.renderMessageList(msgs)
	m.msgTops = tops
	m.msgIDs = m.msgIDs[:0]
	for _, msg := range msgs {
		m.msgIDs = append(m.msgIDs, msg.ID)
	}
	m.vp.SetContent(content)
	if m.coord.ObserveContentChange(m.metrics()) {
		m.vp.GotoBottom()
	}
}

func (m Model) connectionLabel() string {
	switch m.sess.ConnectionState() {
	case transport.StateJoined:
		return "connected"
	case transport.StateConnecting:
		return "connecting..."
	default:
		return "offline"
	}
}
