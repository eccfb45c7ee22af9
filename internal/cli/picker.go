package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mediafetch/internal/selector"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var errPickerCancelled = errors.New("variant selection cancelled")

type pickerKeys struct {
	choose key.Binding
	quit   key.Binding
}

func defaultPickerKeys() pickerKeys {
	return pickerKeys{
		choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "download")),
		quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "cancel")),
	}
}

// variantPicker lists the variants of an HLS master playlist and returns
// the option number the user confirms.
type variantPicker struct {
	table     table.Model
	options   []selector.VariantOption
	keys      pickerKeys
	chosen    int
	cancelled bool
}

func newVariantPicker(options []selector.VariantOption) variantPicker {
	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Resolution", Width: 12},
		{Title: "Bitrate", Width: 12},
		{Title: "Codecs", Width: 28},
	}
	rows := make([]table.Row, 0, len(options))
	best := 0
	for i, o := range options {
		res := o.Resolution
		if res == "" {
			res = "audio/unknown"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(o.Number),
			res,
			fmt.Sprintf("%d kbps", o.BandwidthKB),
			o.Codecs,
		})
		if o.BandwidthKB > options[best].BandwidthKB {
			best = i
		}
	}
	height := len(rows) + 1
	if height > 12 {
		height = 12
	}
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
		table.WithStyles(styles),
	)
	t.SetCursor(best)
	return variantPicker{table: t, options: options, keys: defaultPickerKeys()}
}

func (m variantPicker) Init() tea.Cmd {
	return nil
}

func (m variantPicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.quit):
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.choose):
			if i := m.table.Cursor(); i >= 0 && i < len(m.options) {
				m.chosen = m.options[i].Number
				return m, tea.Quit
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m variantPicker) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Choose a variant"))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("up/down move  " + m.keys.choose.Help().Key + " " + m.keys.choose.Help().Desc + "  " + m.keys.quit.Help().Key + " " + m.keys.quit.Help().Desc))
	b.WriteString("\n")
	return b.String()
}

// pickerChooser shows the picker on the terminal; it is only installed when
// stdin is a TTY and --variant was not given.
type pickerChooser struct{}

func (pickerChooser) ChooseVariant(ctx context.Context, options []selector.VariantOption) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("master playlist lists no variants")
	}
	p := tea.NewProgram(newVariantPicker(options), tea.WithContext(ctx), tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	if err != nil {
		return 0, fmt.Errorf("variant picker: %w", err)
	}
	fm, ok := final.(variantPicker)
	if !ok || fm.cancelled || fm.chosen == 0 {
		return 0, fmt.Errorf("%w: %w", errPickerCancelled, context.Canceled)
	}
	return fm.chosen, nil
}
