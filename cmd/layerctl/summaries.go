package main

import (
	"fmt"
	"time"

	"github.com/layerctl/layerctl/pkg/builder"
	"github.com/layerctl/layerctl/pkg/output"
	"github.com/layerctl/layerctl/pkg/plan"
	"github.com/layerctl/layerctl/pkg/state"
	"github.com/layerctl/layerctl/pkg/verify"
)

func stepSummaries(res *builder.BuildResult) []output.StepSummary {
	out := make([]output.StepSummary, 0, len(res.Steps))
	for _, s := range res.Steps {
		status := "built"
		switch {
		case s.Cached:
			status = "cached"
		case s.Role == plan.RoleBase:
			status = "base"
		}
		out = append(out, output.StepSummary{
			Index:       s.Index,
			Instruction: s.Instruction,
			Role:        string(s.Role),
			Status:      status,
		})
	}
	return out
}

func buildSummaries(builds []state.Build, now time.Time) []output.BuildSummary {
	out := make([]output.BuildSummary, 0, len(builds))
	// Newest first.
	for i := len(builds) - 1; i >= 0; i-- {
		b := builds[i]
		out = append(out, output.BuildSummary{
			ID:           shortID(b.ID, 8),
			Image:        shortDigest(b.ImageID),
			Dependencies: depsStatus(b.DependenciesCached, b.NoCache),
			DepsDigest:   shortDigest(b.DepsDigest.String()),
			Finished:     ago(now.Sub(b.StartedAt.Add(b.Duration))),
			Duration:     b.Duration.Round(time.Second).String(),
		})
	}
	return out
}

func recipeSummaries(histories []*state.History, now time.Time) []output.RecipeSummary {
	out := make([]output.RecipeSummary, 0, len(histories))
	for _, h := range histories {
		last := h.Last()
		if last == nil {
			continue
		}
		out = append(out, output.RecipeSummary{
			Name:         h.Recipe,
			Builds:       len(h.Builds),
			LastImage:    shortDigest(last.ImageID),
			Dependencies: depsStatus(last.DependenciesCached, last.NoCache),
			Finished:     ago(now.Sub(last.StartedAt.Add(last.Duration))),
		})
	}
	return out
}

func findingSummaries(findings []verify.Finding) []output.FindingSummary {
	out := make([]output.FindingSummary, 0, len(findings))
	for _, f := range findings {
		status := "pass"
		switch {
		case f.Skipped:
			status = "skip"
		case !f.OK:
			status = "fail"
		}
		out = append(out, output.FindingSummary{Property: f.Property, Status: status, Detail: f.Detail})
	}
	return out
}

func depsStatus(cached, noCache bool) string {
	switch {
	case noCache:
		return "no-cache"
	case cached:
		return "cached"
	}
	return "installed"
}

// shortDigest trims "sha256:" digests to 12 hex characters.
func shortDigest(d string) string {
	const prefix = "sha256:"
	if len(d) > len(prefix) && d[:len(prefix)] == prefix {
		d = d[len(prefix):]
	}
	return shortID(d, 12)
}

func shortID(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
