package present

import "github.com/charmbracelet/lipgloss"

// Styles are the lipgloss styles shared by the CLI and the TUI.
type Styles struct {
	AppName          lipgloss.Style
	CliArgs          lipgloss.Style
	Comment          lipgloss.Style
	CyclingChars     lipgloss.Style
	ErrorHeader      lipgloss.Style
	ErrorDetails     lipgloss.Style
	ErrPadding       lipgloss.Style
	Flag             lipgloss.Style
	FlagComma        lipgloss.Style
	FlagDesc         lipgloss.Style
	InlineCode       lipgloss.Style
	Link             lipgloss.Style
	Pipe             lipgloss.Style
	Quote            lipgloss.Style
	ConversationList lipgloss.Style
	SHA1             lipgloss.Style
	Timeago          lipgloss.Style
	Badge            lipgloss.Style

	Reasoning   lipgloss.Style
	ToolName    lipgloss.Style
	ToolOK      lipgloss.Style
	ToolFailed  lipgloss.Style
	PlanDone    lipgloss.Style
	PlanActive  lipgloss.Style
	PlanPending lipgloss.Style
}

// MakeStyles builds the styles for renderer r.
func MakeStyles(r *lipgloss.Renderer) (s Styles) {
	const horizontalEdgePadding = 2
	s.AppName = r.NewStyle().Bold(true)
	s.CliArgs = r.NewStyle().Foreground(lipgloss.Color("#585858"))
	s.Comment = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#757575"})
	s.CyclingChars = r.NewStyle().Foreground(lipgloss.Color("#FF87D7"))
	s.ErrorHeader = r.NewStyle().Foreground(lipgloss.Color("#F1F1F1")).Background(lipgloss.Color("#FF5F87")).Bold(true).Padding(0, 1).SetString("ERROR")
	s.ErrorDetails = s.Comment
	s.ErrPadding = r.NewStyle().Padding(0, horizontalEdgePadding)
	s.Flag = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"}).Bold(true)
	s.FlagComma = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5DD6C0", Dark: "#427C72"}).SetString(",")
	s.FlagDesc = s.Comment
	s.InlineCode = r.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Background(lipgloss.Color("#3A3A3A")).Padding(0, 1)
	s.Link = r.NewStyle().Foreground(lipgloss.Color("#00AF87")).Underline(true)
	s.Quote = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF71D0", Dark: "#FF78D2"})
	s.Pipe = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8470FF", Dark: "#745CFF"})
	s.ConversationList = r.NewStyle().Padding(0, 1)
	s.SHA1 = s.Flag
	s.Timeago = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#999", Dark: "#555"})
	s.Badge = r.NewStyle().Foreground(lipgloss.Color("#F1F1F1")).Background(lipgloss.Color("#6C50FF")).Bold(true).Padding(0, 1).MarginRight(1)

	s.Reasoning = r.NewStyle().Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"})
	s.ToolName = r.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#8470FF", Dark: "#A38CFF"})
	s.ToolOK = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"}).SetString("✓")
	s.ToolFailed = r.NewStyle().Foreground(lipgloss.Color("#FF5F87")).SetString("✗")
	s.PlanDone = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"}).Strikethrough(true)
	s.PlanActive = r.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#FF71D0", Dark: "#FF78D2"})
	s.PlanPending = s.Comment
	return s
}
