package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// StepSummary is one row of the build step table.
type StepSummary struct {
	Index       int
	Instruction string
	Role        string
	Status      string // cached, built, pending, reused, invalidated
}

// BuildSummary is one row of the build history table.
type BuildSummary struct {
	ID           string
	Image        string
	Dependencies string // cached or installed
	DepsDigest   string
	Finished     string
	Duration     string
}

// RecipeSummary is one row of the recipe overview table.
type RecipeSummary struct {
	Name         string
	Builds       int
	LastImage    string
	Dependencies string
	Finished     string
}

// FindingSummary is one row of the verification report.
type FindingSummary struct {
	Property string
	Status   string // pass, fail
	Detail   string
}

// Steps prints the build step table.
func (p *Printer) Steps(steps []StepSummary) {
	if len(steps) == 0 {
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"#", "Instruction", "Role", "Status"})
	for _, s := range steps {
		t.AppendRow(table.Row{s.Index, truncate(s.Instruction, 72), s.Role, p.status(s.Status)})
	}
	t.Render()
	p.Println()
}

// Recipes prints one row per recipe with recorded builds.
func (p *Printer) Recipes(recipes []RecipeSummary) {
	if len(recipes) == 0 {
		return
	}

	p.Section("RECIPES")
	t := p.newTable()
	t.AppendHeader(table.Row{"Recipe", "Builds", "Last Image", "Dependencies", "Finished"})
	for _, r := range recipes {
		t.AppendRow(table.Row{r.Name, r.Builds, r.LastImage, p.status(r.Dependencies), r.Finished})
	}
	t.Render()
	p.Println()
}

// History prints the build history table.
func (p *Printer) History(builds []BuildSummary) {
	if len(builds) == 0 {
		return
	}

	p.Section("BUILDS")
	t := p.newTable()
	t.AppendHeader(table.Row{"ID", "Image", "Dependencies", "Deps Digest", "Finished", "Duration"})
	for _, b := range builds {
		t.AppendRow(table.Row{b.ID, b.Image, p.status(b.Dependencies), b.DepsDigest, b.Finished, b.Duration})
	}
	t.Render()
	p.Println()
}

// Findings prints the verification report.
func (p *Printer) Findings(findings []FindingSummary) {
	if len(findings) == 0 {
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"Property", "Status", "Detail"})
	for _, f := range findings {
		t.AppendRow(table.Row{f.Property, p.status(f.Status), f.Detail})
	}
	t.Render()
	p.Println()
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())
	return t
}

func (p *Printer) status(s string) string {
	if !p.isTTY {
		return s
	}
	return statusStyle(s).Render(s)
}

// tableStyle returns the standard amber-themed table style.
func (p *Printer) tableStyle() table.Style {
	style := table.StyleRounded
	if p.isTTY {
		style.Color.Header = text.Colors{text.FgHiYellow, text.Bold}
		style.Color.Border = text.Colors{text.FgHiBlack}
	}
	style.Options.SeparateRows = false
	return style
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
