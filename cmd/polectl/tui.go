package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buendiya/NicanPython/poles"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// posture adapts a body model to list.Item
type posture struct {
	model *poles.BodyModel
}

func (p posture) Title() string { return p.model.Name }
func (p posture) Description() string {
	lengths := p.model.Lengths()
	parts := make([]string, len(lengths))
	for i, v := range lengths {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}
func (p posture) FilterValue() string { return p.model.Name }

type transferDoneMsg struct {
	name   string
	result *poles.TransferResult
	err    error
}

type pickerModel struct {
	ctx    context.Context
	ctrl   *poles.Controller
	models *poles.BodyModels
	opts   poles.TransferOptions

	list     list.Model
	busy     bool
	status   string
	current  string // Name of the last posture sent or committed
	quitting bool
}

func newPickerModel(ctx context.Context, ctrl *poles.Controller, models *poles.BodyModels, opts poles.TransferOptions) pickerModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true

	l := list.New(postureItems(models), delegate, 60, 20)
	l.Title = "Postures"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)

	current := "none"
	if c := ctrl.Current(); c != nil {
		current = c.Name
	}

	return pickerModel{
		ctx:     ctx,
		ctrl:    ctrl,
		models:  models,
		opts:    opts,
		list:    l,
		status:  helpStyle.Render("enter: transfer  a: resend all  s: sort  q: quit"),
		current: current,
	}
}

func postureItems(models *poles.BodyModels) []list.Item {
	items := make([]list.Item, 0, models.Len())
	for _, m := range models.Models() {
		items = append(items, posture{model: m})
	}
	return items
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter", "a":
			if m.busy {
				return m, nil
			}
			item, ok := m.list.SelectedItem().(posture)
			if !ok {
				return m, nil
			}
			opts := m.opts
			opts.IgnorePrevious = msg.String() == "a"
			m.busy = true
			m.status = warnStyle.Render("transferring to " + item.model.Name + "...")
			return m, m.transferCmd(item.model, opts)
		case "s":
			m.models.AutoSort()
			cmd := m.list.SetItems(postureItems(m.models))
			return m, cmd
		}

	case transferDoneMsg:
		m.busy = false
		m.status = renderOutcome(msg)
		if msg.err == nil && msg.result != nil {
			switch msg.result.State {
			case poles.StateCommitted, poles.StateSent:
				m.current = msg.name
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	if m.quitting {
		return ""
	}
	return m.list.View() + "\n" +
		titleStyle.Render("current: "+m.current) + "  " + m.status
}

func (m pickerModel) transferCmd(target *poles.BodyModel, opts poles.TransferOptions) tea.Cmd {
	return func() tea.Msg {
		result, err := m.ctrl.TransferToModel(m.ctx, target, opts)
		return transferDoneMsg{name: target.Name, result: result, err: err}
	}
}

func renderOutcome(msg transferDoneMsg) string {
	if msg.err != nil {
		if missing, ok := poles.Outstanding(msg.err); ok {
			return errStyle.Render(fmt.Sprintf("%s failed, no response from poles %v", msg.name, missing))
		}
		return errStyle.Render(fmt.Sprintf("%s failed: %v", msg.name, msg.err))
	}
	if msg.result.Partial() {
		return warnStyle.Render(fmt.Sprintf("%s partially committed, no response from poles %v",
			msg.name, msg.result.Outstanding))
	}
	return okStyle.Render(fmt.Sprintf("%s %s", msg.name, msg.result.State))
}

func runTUI(ctx context.Context, ctrl *poles.Controller, models *poles.BodyModels, opts poles.TransferOptions) error {
	if models.Len() == 0 {
		return errors.New("no postures to pick from")
	}

	p := tea.NewProgram(newPickerModel(ctx, ctrl, models, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
