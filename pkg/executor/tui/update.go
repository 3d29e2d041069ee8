package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/cropchat/pkg/session"
	"github.com/entrhq/cropchat/pkg/types"
)

const (
	actionCrop  = "crop"
	actionSend  = "send"
	actionClear = "clear"
	actionKey   = "key"
)

// Update handles all state updates for the popup.
//
// Controller calls only ever run inside commands: the controller reports
// through the Renderer, which sends to this loop and would deadlock if
// called from here.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var spinnerCmd tea.Cmd
	m.spinner, spinnerCmd = m.spinner.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowResize(msg)

	case tea.KeyMsg:
		return m.handleKeyPress(msg, spinnerCmd)

	case tea.MouseMsg:
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		return m, tea.Batch(vpCmd, spinnerCmd)

	case statusMsg:
		m.status = msg.status
		m.logger.Debugf("status %s: %s", msg.status.Kind, msg.status.Text)

	case turnMsg:
		m.turns = append(m.turns, msg.turn)
		m.refreshDialogue()

	case imageIndicatorMsg:
		m.hasImage = msg.visible

	case resetMsg:
		m.turns = nil
		m.refreshDialogue()

	case disableInputMsg:
		m.disabled = msg.reason
		m.keyMode = false
		m.confirmClear = false
		m.input.Blur()

	case restoreDoneMsg:
		m.restoring = false
		if msg.err != nil {
			m.logger.Warnf("restore failed: %v", msg.err)
		} else if m.status.Text == msgRestoring {
			m.status = types.Status{}
		}

	case actionDoneMsg:
		return m.handleActionDone(msg), spinnerCmd
	}

	return m, spinnerCmd
}

func (m *model) handleWindowResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	m.viewport.Width = m.width - 4
	m.viewport.Height = m.calculateViewportHeight()
	m.input.Width = m.width - 8
	m.ready = true
	m.refreshDialogue()
	return m, nil
}

// calculateViewportHeight leaves room for the header, status, indicator,
// input box and help bar.
func (m *model) calculateViewportHeight() int {
	chrome := 9
	h := m.height - chrome
	if h < 5 {
		h = 5
	}
	return h
}

func (m *model) handleKeyPress(msg tea.KeyMsg, spinnerCmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.confirmClear {
		m.confirmClear = false
		switch msg.String() {
		case "y", "Y", "enter":
			return m, tea.Batch(spinnerCmd, m.run(actionClear, func() error {
				return m.controller.ClearSession(m.ctx)
			}))
		}
		m.status = types.NewStatus(types.StatusInfo, "Clear cancelled")
		return m, spinnerCmd
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		if m.keyMode {
			m.leaveKeyMode()
			return m, spinnerCmd
		}
		return m, tea.Quit

	case tea.KeyCtrlY:
		m.copyLastReply()
		return m, spinnerCmd

	case tea.KeyPgUp, tea.KeyPgDown:
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		return m, tea.Batch(vpCmd, spinnerCmd)
	}

	if !m.acceptsInput() {
		return m, spinnerCmd
	}

	switch msg.Type {
	case tea.KeyCtrlS:
		return m, tea.Batch(spinnerCmd, m.run(actionCrop, func() error {
			return m.controller.RequestTransaction(m.ctx)
		}))

	case tea.KeyCtrlL:
		if len(m.turns) == 0 && !m.hasImage {
			return m, spinnerCmd
		}
		m.confirmClear = true
		return m, spinnerCmd

	case tea.KeyCtrlK:
		if m.keyMode {
			m.leaveKeyMode()
		} else {
			m.enterKeyMode()
		}
		return m, spinnerCmd

	case tea.KeyEnter:
		return m, tea.Batch(spinnerCmd, m.submit())
	}

	var tiCmd tea.Cmd
	m.input, tiCmd = m.input.Update(msg)
	return m, tea.Batch(tiCmd, spinnerCmd)
}

// submit sends the input as a follow-up, or saves it as the API key in key
// mode.
func (m *model) submit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return nil
	}
	m.input.Reset()

	if m.keyMode {
		m.leaveKeyMode()
		return m.run(actionKey, func() error {
			return m.controller.SetCredential(value)
		})
	}
	if m.busy() {
		m.input.SetValue(value)
		return nil
	}
	return m.run(actionSend, func() error {
		return m.controller.SendTurn(m.ctx, value)
	})
}

func (m *model) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn()}
	}
}

func (m *model) handleActionDone(msg actionDoneMsg) tea.Model {
	if msg.err != nil {
		m.logger.Warnf("%s failed: %v", msg.action, msg.err)
		if msg.action == actionKey {
			m.status = types.NewStatus(types.StatusError, session.UserMessage(msg.err))
		}
		return m
	}
	if msg.action == actionKey {
		m.status = types.NewStatus(types.StatusSuccess, msgKeySaved)
	}
	return m
}

func (m *model) enterKeyMode() {
	m.keyMode = true
	m.input.Reset()
	m.input.Placeholder = keyPlaceholder
	m.input.EchoMode = textinput.EchoPassword
}

func (m *model) leaveKeyMode() {
	m.keyMode = false
	m.input.Reset()
	m.input.Placeholder = promptPlaceholder
	m.input.EchoMode = textinput.EchoNormal
}

func (m *model) copyLastReply() {
	reply, ok := m.lastReply()
	if !ok {
		m.status = types.NewStatus(types.StatusInfo, msgNoReply)
		return
	}
	if err := m.copy(reply); err != nil {
		m.logger.Warnf("clipboard write failed: %v", err)
		m.status = types.NewStatus(types.StatusError, "Could not copy: "+err.Error())
		return
	}
	m.status = types.NewStatus(types.StatusSuccess, msgCopied)
}

func (m *model) refreshDialogue() {
	m.viewport.SetContent(m.renderDialogue())
	m.viewport.GotoBottom()
}
