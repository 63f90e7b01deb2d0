package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/IReaderorg/IReader-sub034/internal/app"
	"github.com/IReaderorg/IReader-sub034/internal/config"
	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/storage"
)

func newEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List known engines and how they are throttled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngines(cmd.OutOrStdout())
		},
	}
}

func runEngines(out io.Writer) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopCompleted) }()

	tr, err := a.Config().Translation.Resolve()
	if err != nil {
		return err
	}
	renderEngines(out, engines.NewClassifier(tr.OfflineEngines, tr.RateLimitedEngines), a.Engines(), tr)
	return nil
}

func renderEngines(out io.Writer, c *engines.Classifier, reg *engines.Registry, tr config.Translation) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Engine", "Class", "Throttle", "Available"})
	listed := map[string]bool{}
	for _, e := range c.Entries() {
		listed[e.ID] = true
		throttle := "-"
		if e.Class == engines.ClassRateLimited {
			throttle = "every " + tr.RateLimitDelay.String()
		}
		avail := ""
		if reg != nil && reg.Has(e.ID) {
			avail = "yes"
		}
		t.AppendRow(table.Row{e.ID, e.Class.String(), throttle, avail})
	}
	if reg != nil {
		for _, id := range reg.IDs() {
			if !listed[id] {
				t.AppendRow(table.Row{id, c.Classify(id).String(), "-", "yes"})
			}
		}
	}
	warn := "off"
	if tr.WarningThreshold > 0 {
		warn = fmt.Sprintf("at %d chapters", tr.WarningThreshold)
	}
	t.AppendFooter(table.Row{"", "", "", "warning " + warn})
	t.Render()
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored books and how many chapters are translated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runStatus(ctx, cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, out io.Writer) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopCompleted) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return renderLibrary(ctx, out, a.Store())
}

func renderLibrary(ctx context.Context, out io.Writer, st storage.Store) error {
	books, err := st.ListBooks(ctx)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Book", "Title", "Chapters", "Cached", "Translated"})
	for _, b := range books {
		chapters, err := st.FindChaptersByBookID(ctx, b.ID)
		if err != nil {
			return err
		}
		cached, translated := 0, 0
		for _, ch := range chapters {
			if ch.HasContent() {
				cached++
			}
			ts, err := st.Translations(ctx, ch.ID)
			if err != nil {
				return err
			}
			if len(ts) > 0 {
				translated++
			}
		}
		t.AppendRow(table.Row{b.ID, b.Title, len(chapters), cached, translated})
	}
	t.Render()
	return nil
}
