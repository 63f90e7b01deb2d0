package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/IReaderorg/IReader-sub034/internal/app"
	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
	"github.com/IReaderorg/IReader-sub034/internal/task/progress"
)

type runOptions struct {
	bookID   int64
	chapters string
	source   string
	target   string
	engine   string
	yes      bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Translate chapters of one book and wait for the batch to finish",
		Long: `Queue chapters of one book, wait until the scheduler is idle again and
print the outcome of every chapter.

Without --chapters every chapter of the book is queued. A large batch for a
rate-limited engine stops at the warning unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.bookID, "book", 0, "book id")
	f.StringVar(&opts.chapters, "chapters", "", "chapter ids, e.g. 1,2,5-8 (default: all chapters of the book)")
	f.StringVar(&opts.source, "source", "auto", "source language tag")
	f.StringVar(&opts.target, "target", "", "target language tag")
	f.StringVar(&opts.engine, "engine", "", "translation engine id")
	f.BoolVarP(&opts.yes, "yes", "y", false, "confirm large rate-limited batches")
	_ = cmd.MarkFlagRequired("book")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("engine")

	return cmd
}

func runBatch(parent context.Context, out io.Writer, opts runOptions) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ids, err := parseChapterIDs(opts.chapters)
	if err != nil {
		return err
	}

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx, app.Options{}); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	reason := app.StopCompleted
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if stopErr := a.Stop(stopCtx, reason); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if len(ids) == 0 {
		chapters, err := a.Store().FindChaptersByBookID(ctx, opts.bookID)
		if err != nil {
			return err
		}
		for _, ch := range chapters {
			ids = append(ids, ch.ID)
		}
	}

	svc := a.Batch()
	res, err := svc.QueueChapters(ctx, batch.Request{
		BookID:        opts.bookID,
		ChapterIDs:    ids,
		SourceLang:    opts.source,
		TargetLang:    opts.target,
		EngineID:      opts.engine,
		BypassWarning: opts.yes,
	})
	if err != nil {
		return err
	}
	if res.Outcome == batch.OutcomeWarning {
		fmt.Fprintf(out, "%d chapters with %s take at least %s because of rate limiting.\n",
			res.Count, opts.engine, res.Estimated)
		fmt.Fprintln(out, "Re-run with --yes to start anyway.")
		return nil
	}
	if res.Count == 0 {
		fmt.Fprintln(out, "Nothing to translate.")
		return nil
	}

	if err := waitIdle(ctx, svc); err != nil {
		reason = app.StopSignal
		return err
	}
	renderProgress(out, svc.Progress(), ids)

	for _, id := range ids {
		if r, ok := svc.Progress().Get(id); ok && r.Status == progress.StatusFailed {
			return errors.New("some chapters failed")
		}
	}
	return nil
}

func waitIdle(ctx context.Context, svc *batch.Service) error {
	ch, unsub := svc.WatchStatus(1)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st := <-ch:
			if st.State == batch.StateIdle || st.State == batch.StateStopped {
				return nil
			}
		}
	}
}

func renderProgress(out io.Writer, snap progress.Snapshot, ids []int64) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Chapter", "Title", "Status", "Retries", "Error"})

	counts := map[progress.Status]int{}
	for _, id := range ids {
		r, ok := snap.Get(id)
		if !ok {
			continue
		}
		counts[r.Status]++
		t.AppendRow(table.Row{r.ChapterID, r.ChapterTitle, string(r.Status), r.RetryCount, r.Error})
	}
	t.AppendFooter(table.Row{
		"", "",
		fmt.Sprintf("%d ok / %d failed / %d cancelled",
			counts[progress.StatusCompleted], counts[progress.StatusFailed], counts[progress.StatusCancelled]),
		"", "",
	})
	t.Render()
}

// parseChapterIDs accepts a comma separated list of ids and inclusive ranges.
func parseChapterIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []int64
	seen := map[int64]struct{}{}
	add := func(id int64) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil || from <= 0 {
			return nil, fmt.Errorf("invalid chapter id %q", part)
		}
		if !isRange {
			add(from)
			continue
		}
		to, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil || to < from {
			return nil, fmt.Errorf("invalid chapter range %q", part)
		}
		if to-from >= 100000 {
			return nil, fmt.Errorf("chapter range %q is too large", part)
		}
		for id := from; id <= to; id++ {
			add(id)
		}
	}
	return out, nil
}
