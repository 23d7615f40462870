package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter_NonTTY(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)
	assert.False(t, p.isTTY)
	assert.Equal(t, &buf, p.Writer())
}

func TestPrinter_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Info("building image", "tag", "layerctl-bot:latest")
	p.Warn("lockfile missing")
	p.Error("build failed")
	p.Debug("hidden by default")

	out := buf.String()
	assert.Contains(t, out, "building image")
	assert.Contains(t, out, "tag=layerctl-bot:latest")
	assert.Contains(t, out, "lockfile missing")
	assert.Contains(t, out, "build failed")
	assert.NotContains(t, out, "hidden by default")

	p.SetDebug(true)
	p.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestPrinter_BannerNonTTY(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf).Banner("v0.3.0")
	assert.Equal(t, "layerctl v0.3.0\n\n", buf.String())
}

func TestPrinter_Section(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf).Section("BUILDS")
	assert.Equal(t, "BUILDS\n", buf.String())
}

func TestPrinter_Steps(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Steps(nil)
	assert.Empty(t, buf.String())

	p.Steps([]StepSummary{
		{Index: 6, Instruction: `RUN ["poetry", "install"]`, Role: "dependencies", Status: "cached"},
		{Index: 7, Instruction: "COPY . .", Role: "source", Status: "built"},
	})
	out := buf.String()
	assert.Contains(t, out, "INSTRUCTION")
	assert.Contains(t, out, "dependencies")
	assert.Contains(t, out, "cached")
	assert.Contains(t, out, "COPY . .")
}

func TestPrinter_HistoryAndFindings(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.History([]BuildSummary{{ID: "1a2b", Image: "sha256:abc", Dependencies: "cached", DepsDigest: "sha256:0123", Finished: "2m ago", Duration: "4s"}})
	p.Findings([]FindingSummary{{Property: "default-command", Status: "pass", Detail: "poetry run python -m paycorbot"}})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "BUILDS\n"))
	assert.Contains(t, out, "sha256:0123")
	assert.Contains(t, out, "default-command")
	assert.Contains(t, out, "pass")
}

func TestPrinter_Recipes(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Recipes(nil)
	assert.Empty(t, buf.String())

	p.Recipes([]RecipeSummary{{Name: "paycorbot", Builds: 3, LastImage: "0123456789ab", Dependencies: "no-cache", Finished: "just now"}})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "RECIPES\n"))
	assert.Contains(t, out, "paycorbot")
	assert.Contains(t, out, "no-cache")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestStatusStyle(t *testing.T) {
	assert.Equal(t, lipgloss.TerminalColor(ColorGreen), statusStyle("cached").GetForeground())
	assert.Equal(t, lipgloss.TerminalColor(ColorRed), statusStyle("invalidated").GetForeground())
	assert.Equal(t, lipgloss.TerminalColor(ColorGray), statusStyle("something-else").GetForeground())
}
