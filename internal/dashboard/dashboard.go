// Package dashboard renders a session summary as a terminal dashboard:
// message counts, progress bars for the top emotions and one sparkline
// per tracked trend dimension.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/J3rah/talkai-monorepo-sub002/internal/analytics"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	barWidth        = 40
	labelWidth      = 10
	fetchTimeout    = 10 * time.Second
)

// Fetcher loads the summary being displayed.
type Fetcher interface {
	Fetch(ctx context.Context) (analytics.Summary, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context) (analytics.Summary, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context) (analytics.Summary, error) { return f(ctx) }

// Model is the bubbletea model for `talkctl stats`.
type Model struct {
	fetcher    Fetcher
	sessionID  string
	interval   time.Duration
	lastUpdate time.Time
	summary    *analytics.Summary
	err        error
	quitting   bool

	bar progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel builds a dashboard for sessionID. A zero interval disables
// auto-refresh.
func NewModel(fetcher Fetcher, sessionID string, interval time.Duration) Model {
	return Model{
		fetcher:   fetcher,
		sessionID: sessionID,
		interval:  interval,
		bar: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(barWidth),
		),
	}
}

type tickMsg time.Time
type summaryMsg analytics.Summary
type errMsg error

// Init fetches once and starts the refresh timer.
func (m Model) Init() tea.Cmd {
	if m.interval <= 0 {
		return fetch(m.fetcher)
	}
	return tea.Batch(tick(m.interval), fetch(m.fetcher))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(f Fetcher) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		s, err := f.Fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		return summaryMsg(s)
	}
}

// Update handles keys, ticks and fetch results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.fetcher)
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetch(m.fetcher))

	case summaryMsg:
		s := analytics.Summary(msg)
		m.summary = &s
		m.err = nil
		m.lastUpdate = time.Now()

	case errMsg:
		m.err = msg
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	switch {
	case m.err != nil && m.summary == nil:
		b.WriteString(m.renderError())
	case m.summary == nil:
		b.WriteString(dimStyle.Render("Loading session summary..."))
	default:
		b.WriteString(m.renderSummary())
		if m.err != nil {
			b.WriteString("\n" + warningStyle.Render("⚠ refresh failed: ") + dimStyle.Render(m.err.Error()))
		}
	}
	b.WriteString("\n")
	b.WriteString(renderFooter())
	return containerStyle.Render(b.String())
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("talkAI Session " + m.sessionID)
	if m.lastUpdate.IsZero() {
		return title
	}
	return title + " " + dimStyle.Render("updated "+m.lastUpdate.Format("15:04:05"))
}

func (m Model) renderError() string {
	return errorStyle.Render("✗ Cannot load session summary") + "\n" +
		dimStyle.Render(m.err.Error())
}

func (m Model) renderSummary() string {
	s := m.summary
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Session"))
	b.WriteString("\n")
	b.WriteString(row("Duration", valueStyle.Render(FormatDuration(s.DurationSeconds))))
	b.WriteString(row("Tier", valueStyle.Render(s.Tier.String())))
	b.WriteString(row("Outcome", outcomeBadge(s.Outcome)))
	b.WriteString(dimStyle.Render(s.Message))
	b.WriteString("\n")
	if s.UpgradePrompt {
		b.WriteString(warningStyle.Render("★ Upgrade to unlock emotion insights"))
		b.WriteString("\n")
	}

	if s.Stats != nil {
		b.WriteString(renderStats(m.bar, s.Stats))
	}

	if len(s.Feedback) > 0 {
		b.WriteString(sectionStyle.Render("Feedback"))
		b.WriteString("\n")
		for _, note := range s.Feedback {
			b.WriteString(labelStyle.Render("• ") + note + "\n")
		}
	}
	return b.String()
}

func renderStats(bar progress.Model, st *analytics.SessionStats) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Messages"))
	b.WriteString("\n")
	b.WriteString(row("Total", valueStyle.Render(fmt.Sprint(st.Messages.Total))))
	b.WriteString(row("You", valueStyle.Render(fmt.Sprint(st.Messages.User))))
	b.WriteString(row("Assistant", valueStyle.Render(fmt.Sprint(st.Messages.Assistant))))

	if len(st.TopEmotions) > 0 {
		b.WriteString(sectionStyle.Render("Top Emotions"))
		b.WriteString("\n")
		for _, e := range st.TopEmotions {
			b.WriteString(labelStyle.Render(pad(FormatLabel(e.Emotion))))
			b.WriteString(bar.ViewAs(clamp(e.Average)))
			b.WriteString(" " + valueStyle.Render(FormatIntensity(e.Average)))
			b.WriteString("\n")
		}
	}

	if len(st.Trend) > 0 {
		b.WriteString(sectionStyle.Render("Emotion Trend"))
		b.WriteString("\n")
		for _, d := range trendSeries(st.Trend) {
			b.WriteString(labelStyle.Render(pad(d.name)))
			b.WriteString(createSparkline(d.values))
			b.WriteString(" " + dimStyle.Render("last "+FormatIntensity(d.values[len(d.values)-1])))
			b.WriteString("\n")
		}
	}
	return b.String()
}

type series struct {
	name   string
	values []float64
}

// trendSeries splits trend buckets into one series per dimension.
func trendSeries(points []analytics.TrendPoint) []series {
	out := []series{{name: "Joy"}, {name: "Sadness"}, {name: "Anger"}, {name: "Fear"}, {name: "Anxiety"}, {name: "Calmness"}}
	for _, p := range points {
		v := p.Values
		for i, x := range []float64{v.Joy, v.Sadness, v.Anger, v.Fear, v.Anxiety, v.Calmness} {
			out[i].values = append(out[i].values, x)
		}
	}
	return out
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

func outcomeBadge(o analytics.Outcome) string {
	switch o {
	case analytics.OutcomeComplete:
		return healthyStyle.Render("● " + string(o))
	case analytics.OutcomeGated, analytics.OutcomeNoData:
		return warningStyle.Render("● " + string(o))
	default:
		return dimStyle.Render("● " + string(o))
	}
}

func row(label, value string) string {
	return labelStyle.Render(pad(label)) + value + "\n"
}

func pad(s string) string {
	return fmt.Sprintf("%-*s ", labelWidth, s)
}

func renderFooter() string {
	return footerStyle.Render(
		footerKeyStyle.Render("[q]") + " quit  " +
			footerKeyStyle.Render("[r]") + " refresh",
	)
}

// Render draws s once, without a running program.
func Render(s analytics.Summary, sessionID string) string {
	m := NewModel(nil, sessionID, 0)
	m.summary = &s
	m.lastUpdate = time.Now()
	return m.View()
}
