package tui

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bookfeed/internal/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultRefresh = 100 * time.Millisecond
	columnTemplate = "%12s %12s %12s"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	askStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	bidStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	flashStyle  = lipgloss.NewStyle().Bold(true).Reverse(true)
	spreadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var coinKeys = map[string]types.Coin{"b": types.BTC, "e": types.ETH, "s": types.SOL}

type tickMsg time.Time

type commandErrMsg struct{ err error }

// Display renders the latest book view in the terminal
type Display struct {
	latest  *atomic.Pointer[types.BookView]
	program *tea.Program
}

// New creates a terminal display driving controller
func New(controller types.Controller, opts ...tea.ProgramOption) *Display {
	latest := &atomic.Pointer[types.BookView]{}
	view := controller.View()
	latest.Store(&view)

	m := model{
		controller: controller,
		latest:     latest,
		refresh:    defaultRefresh,
		view:       view,
	}
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)

	return &Display{
		latest:  latest,
		program: tea.NewProgram(m, opts...),
	}
}

// PublishView stores the view for the next redraw. It never blocks.
func (d *Display) PublishView(view types.BookView) {
	d.latest.Store(&view)
}

// Run blocks until the user quits or Quit is called
func (d *Display) Run() error {
	_, err := d.program.Run()
	return err
}

// Quit stops the display
func (d *Display) Quit() {
	d.program.Quit()
}

var _ types.Display = (*Display)(nil)

type model struct {
	controller types.Controller
	latest     *atomic.Pointer[types.BookView]
	refresh    time.Duration
	view       types.BookView
	lastErr    string
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return m.tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if v := m.latest.Load(); v != nil {
			m.view = *v
		}
		return m, m.tick()

	case commandErrMsg:
		m.lastErr = ""
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "+", "up", "k":
		return m, m.setGrouping(types.NextGrouping(m.view.Grouping))
	case "-", "down", "j":
		return m, m.setGrouping(types.PreviousGrouping(m.view.Grouping))
	}
	if coin, ok := coinKeys[key]; ok && coin != m.view.Coin {
		return m, m.setCoin(coin)
	}
	return m, nil
}

// controller calls wait on the engine, so they run as commands off the
// update loop
func (m model) setGrouping(g types.Grouping) tea.Cmd {
	c := m.controller
	return func() tea.Msg {
		return commandErrMsg{err: c.SetGrouping(g)}
	}
}

func (m model) setCoin(coin types.Coin) tea.Cmd {
	c := m.controller
	return func() tea.Msg {
		return commandErrMsg{err: c.SetCoin(coin)}
	}
}

func (m model) View() string {
	v := m.view

	book := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(fmt.Sprintf(columnTemplate, "PRICE", "SIZE", "TOTAL")),
		renderAsks(v.Asks, v.HighlightedAsks),
		spreadStyle.Render(fmt.Sprintf("%12s %12s %11s%%", "spread", v.Spread.Value.String(), v.Spread.Percentage)),
		renderBids(v.Bids, v.HighlightedBids),
	)
	trades := renderTrades(v.Trades)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(book),
		panelStyle.Render(trades),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		dimStyle.Render("+/- grouping  b/e/s coin  q quit"),
	)
}

func (m model) renderHeader() string {
	v := m.view
	status := bidStyle.Render("live")
	switch {
	case v.Stale:
		status = errorStyle.Render("stale")
	case !v.Connected:
		status = dimStyle.Render("connecting")
	}

	header := fmt.Sprintf("%s  grouping %d  %s",
		titleStyle.Render(string(v.Coin)), v.Grouping, status)

	errText := v.Error
	if m.lastErr != "" {
		errText = m.lastErr
	}
	if errText != "" {
		header += "  " + errorStyle.Render(errText)
	}
	return header
}

// asks are stored best first; the ladder prints them highest first so the
// best ask sits on the spread row
func renderAsks(levels []types.PriceLevel, flash types.HighlightSet) string {
	rows := make([]string, 0, len(levels))
	for i := len(levels) - 1; i >= 0; i-- {
		rows = append(rows, renderLevel(levels[i], flash, askStyle))
	}
	return strings.Join(rows, "\n")
}

func renderBids(levels []types.PriceLevel, flash types.HighlightSet) string {
	rows := make([]string, 0, len(levels))
	for _, l := range levels {
		rows = append(rows, renderLevel(l, flash, bidStyle))
	}
	return strings.Join(rows, "\n")
}

func renderLevel(l types.PriceLevel, flash types.HighlightSet, style lipgloss.Style) string {
	row := fmt.Sprintf(columnTemplate, l.Price.String(), l.Size.String(), l.Total.String())
	if l.Size.IsZero() {
		return dimStyle.Render(row)
	}
	if flash[types.Key(l.Price)] {
		return style.Inherit(flashStyle).Render(row)
	}
	return style.Render(row)
}

func renderTrades(trades []types.TradeRecord) string {
	rows := []string{headerStyle.Render(fmt.Sprintf("%10s %10s %8s", "PRICE", "SIZE", "TIME"))}
	for _, t := range trades {
		style := bidStyle
		if t.Side == types.Ask {
			style = askStyle
		}
		rows = append(rows, style.Render(fmt.Sprintf("%10s %10s %8s", t.Price, t.Size, types.FormatTime(t.Time))))
	}
	return strings.Join(rows, "\n")
}
