package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nhle/taskcache/internal/grouping"
	"github.com/nhle/taskcache/internal/sync"
	"github.com/nhle/taskcache/internal/theme"
)

func renderGroups(w io.Writer, groups []grouping.Group) {
	if len(groups) == 0 {
		fmt.Fprintln(w, theme.SubtleStyle.Render("No items."))
		return
	}

	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n",
			theme.HeaderStyle.Render(g.Assignee),
			theme.SubtleStyle.Render(totals(g.Count, g.EstimateHours, g.SpentHours)))

		for _, p := range g.Projects {
			fmt.Fprintf(w, "%s %s\n",
				theme.ProjectStyle.Render(p.Name),
				theme.SubtleStyle.Render(totals(p.Count, p.EstimateHours, p.SpentHours)))
			for _, item := range p.Items {
				fmt.Fprintln(w, theme.ItemStyle.Render(itemLine(item)))
			}
		}
	}
}

func itemLine(item grouping.ItemView) string {
	var b strings.Builder
	b.WriteString(theme.SubtleStyle.Render(item.ID))
	b.WriteString(" ")
	b.WriteString(item.Name)
	b.WriteString(" ")
	b.WriteString(theme.StatusStyle(item.Status).Render("[" + item.Status + "]"))
	if item.DueDate != nil {
		b.WriteString(theme.SubtleStyle.Render(" due " + item.DueDate.Format(time.DateOnly)))
	}
	if len(item.Tags) > 0 {
		b.WriteString(theme.SubtleStyle.Render(" #" + strings.Join(item.Tags, " #")))
	}
	return b.String()
}

func totals(count int, estimate, spent float64) string {
	noun := "items"
	if count == 1 {
		noun = "item"
	}
	return fmt.Sprintf("%d %s, %.1fh estimated, %.1fh logged", count, noun, estimate, spent)
}

func renderStatus(w io.Writer, status sync.CacheStatus) {
	tier := func(name string, present bool) {
		mark := theme.WarningStyle.Render("missing")
		if present {
			mark = theme.OKStyle.Render("present")
		}
		fmt.Fprintf(w, "%-16s %s\n", name, mark)
	}
	tier("metadata", status.HasMetadata)
	tier("processed view", status.HasProcessedData)
	tier("raw items", status.HasRawData)

	lastSync := "never"
	if !status.LastSync.IsZero() {
		lastSync = status.LastSync.Local().Format(time.RFC1123)
	}
	fmt.Fprintf(w, "%-16s %s\n", "last sync", lastSync)
	fmt.Fprintf(w, "%-16s %d\n", "items", status.ItemCount)
	fmt.Fprintf(w, "%-16s %s\n", "schema version", status.Version)
	fmt.Fprintf(w, "%-16s %s\n", "state", status.State)
}

func renderResult(w io.Writer, result *sync.Result) {
	fmt.Fprintf(w, "%s %s sync: %d items (%d added, %d updated, %d unchanged) in %s\n",
		theme.OKStyle.Render("✓"),
		result.Mode,
		result.ItemCount,
		result.Stats.Added,
		result.Stats.Updated,
		result.Stats.Unchanged,
		result.Duration.Round(time.Millisecond),
	)
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "%s %s\n", theme.WarningStyle.Render("warning:"), warning)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
