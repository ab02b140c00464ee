package treecmder

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/canopyhq/canopy/pkg/tree"
)

var (
	treeTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	treeDimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	treeActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("235")).Background(lipgloss.Color("214")).Bold(true)
	treeCursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	treeSectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	treeRoleUserStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	treeRoleAsstStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	treeHelpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// row is one flattened, indented line of the tree listing.
type row struct {
	nodeID string
	depth  int
	title  string
}

type treeModel struct {
	forest *tree.Forest
	rows   []row
	cursor int

	width, height int

	pickedNodeID string
	quitting     bool
}

func newModel(forest *tree.Forest) treeModel {
	m := treeModel{forest: forest}
	m.rebuildRows()
	return m
}

func (m *treeModel) rebuildRows() {
	m.rows = nil
	for _, rootID := range m.forest.Roots() {
		m.appendSubtree(rootID, 0)
	}
}

func (m *treeModel) appendSubtree(nodeID string, depth int) {
	node, err := m.forest.Get(nodeID)
	if err != nil {
		return
	}
	m.rows = append(m.rows, row{nodeID: nodeID, depth: depth, title: node.Title()})
	for _, childID := range node.Children() {
		m.appendSubtree(childID, depth+1)
	}
}

func (m treeModel) Init() tea.Cmd {
	return nil
}

func (m treeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "j", "down":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "enter":
			if len(m.rows) > 0 {
				id := m.rows[m.cursor].nodeID
				m.forest.SetActive(id)
				m.pickedNodeID = id
			}
		}
	}
	return m, nil
}

func (m treeModel) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}

	var left strings.Builder
	left.WriteString(treeTitleStyle.Render("Conversation Forest") + "\n\n")

	if len(m.rows) == 0 {
		left.WriteString(treeDimStyle.Render("(no conversations)") + "\n")
	}

	activeID := ""
	if active, err := m.forest.Active(); err == nil {
		activeID = active.ID()
	}

	for i, r := range m.rows {
		indent := strings.Repeat("  ", r.depth)
		label := r.title
		if r.nodeID == activeID {
			label = treeActiveStyle.Render(" " + label + " ")
		}
		cursor := "  "
		if i == m.cursor {
			cursor = treeCursorStyle.Render("> ")
		}
		left.WriteString(fmt.Sprintf("%s%s%s\n", cursor, indent, label))
	}

	right := m.renderDetail()

	left.WriteString("\n" + treeHelpStyle.Render("j/k move  enter set active + check out  q quit"))

	v := tea.NewView(lipgloss.JoinHorizontal(lipgloss.Top, left.String(), "   ", right))
	v.AltScreen = true
	return v
}

func (m treeModel) renderDetail() string {
	if len(m.rows) == 0 {
		return ""
	}

	node, err := m.forest.Get(m.rows[m.cursor].nodeID)
	if err != nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(treeSectionStyle.Render(node.Title()) + "\n")
	b.WriteString(treeDimStyle.Render(node.ID()) + "\n\n")

	if summary := node.Buffer().Summary(); summary != "" {
		b.WriteString(treeSectionStyle.Render("Summary") + "\n")
		b.WriteString(summary + "\n\n")
	}

	if fu := node.FollowUp(); fu != nil {
		b.WriteString(treeSectionStyle.Render("Follow-up") + "\n")
		if fu.SelectedText != "" {
			b.WriteString(treeDimStyle.Render("selected: ") + fu.SelectedText + "\n")
		}
		if fu.FollowUpContext != "" {
			b.WriteString(treeDimStyle.Render("context: ") + fu.FollowUpContext + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(treeSectionStyle.Render("Buffer") + "\n")
	turns := node.Buffer().Recent()
	if len(turns) == 0 {
		b.WriteString(treeDimStyle.Render("(empty)") + "\n")
	}
	for _, turn := range turns {
		style := treeRoleUserStyle
		if turn.Role == "assistant" {
			style = treeRoleAsstStyle
		}
		text := turn.Text
		if len(text) > 100 {
			text = text[:97] + "..."
		}
		b.WriteString(style.Render("["+turn.Role+"] ") + text + "\n")
	}

	return b.String()
}
