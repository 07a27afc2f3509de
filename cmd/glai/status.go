package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"glaiprocessor/internal/ledger"
	"glaiprocessor/pkg/checkpoint"
	"glaiprocessor/pkg/config"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/storage"
	"glaiprocessor/pkg/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [output-dir]",
	Short: "Show the progress of a monitored directory",
	Long: `Show the checkpoint and completion state of a monitored directory, the
artifacts present for every scene and, when the processing ledger exists,
the most recent runs.

The directory defaults to monitor.output_dir of the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Int("runs", 5, "number of recent runs to list")
	statusCmd.Flags().String("scene", "", "show the recorded outcomes of one scene key")
	statusCmd.Flags().Bool("windows", false, "show the sub-windows of the most recent run")
}

// statusOptions selects what renderStatus shows
type statusOptions struct {
	Dir string
	// Coverage is drawn when both requested dates are known
	Start, End time.Time
	Runs       int
	// Scene selects a scene whose outcome history is listed
	Scene       string
	ShowWindows bool
	Now         time.Time
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	opts := statusOptions{Dir: cfg.Monitor.OutputDir, Now: time.Now()}
	if len(args) == 1 {
		opts.Dir = args[0]
	}
	if opts.Dir == "" {
		return glaierrors.New(glaierrors.KindConfiguration, "cli.status", "no output directory given or configured")
	}
	opts.Runs, _ = cmd.Flags().GetInt("runs")
	opts.Scene, _ = cmd.Flags().GetString("scene")
	opts.ShowWindows, _ = cmd.Flags().GetBool("windows")
	if start, err := cfg.StartDate(); err == nil {
		if end, err := cfg.EndDate(); err == nil {
			opts.Start, opts.End = start, end
		}
	}

	return renderStatus(cmd.Context(), os.Stdout, opts)
}

func renderStatus(ctx context.Context, w io.Writer, opts statusOptions) error {
	info, err := os.Stat(opts.Dir)
	if err != nil || !info.IsDir() {
		return glaierrors.Newf(glaierrors.KindConfiguration, "cli.status", "%s is not a directory", opts.Dir)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p := ui.NewPrinter(w)
	p.Highlight("Monitored directory " + opts.Dir)
	state, err := checkpoint.NewManager(opts.Dir, logger.NewNopLogger()).State()
	switch {
	case err != nil:
		p.Warning("Checkpoint unreadable", err.Error())
	case state.Exists:
		p.Info("Checkpoint", fmt.Sprintf("%s (updated %s)",
			state.Date.Format(config.DateLayout), humanize.RelTime(state.UpdatedAt, opts.Now, "ago", "from now")))
	default:
		p.Info("Checkpoint", "none")
	}
	p.Info("Complete", strconv.FormatBool(state.Complete))
	if !opts.Start.IsZero() && !opts.End.IsZero() {
		cov := ui.Coverage{Start: opts.Start, End: opts.End, Checkpoint: state.Date}
		p.Info("Coverage", cov.Bar(30))
	}

	var (
		outcomes map[string]ledger.SceneRecord
		runs     []ledger.Run
		history  []ledger.SceneRecord
		windows  []ledger.WindowRecord
	)
	if _, err := os.Stat(filepath.Join(opts.Dir, ledger.FileName)); err == nil {
		l, err := ledger.Open(opts.Dir)
		if err != nil {
			p.Warning("Processing ledger unreadable", err.Error())
		} else {
			defer l.Close()
			if outcomes, err = l.LatestOutcomes(ctx); err != nil {
				return err
			}
			if runs, err = l.RecentRuns(ctx, opts.Runs); err != nil {
				return err
			}
			if opts.Scene != "" {
				if history, err = l.SceneHistory(ctx, opts.Scene); err != nil {
					return err
				}
			}
			if opts.ShowWindows && len(runs) > 0 {
				if windows, err = l.Windows(ctx, runs[0].ID); err != nil {
					return err
				}
			}
		}
	}

	store, err := storage.NewManager(opts.Dir)
	if err != nil {
		return err
	}
	scenes, err := store.Scenes()
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	if len(scenes) == 0 {
		p.Info("Scenes", "none")
	} else {
		fmt.Fprintln(w, renderTable(
			[]string{"Scene", "Size", "Angles", "LUT", "Traits", "Last outcome"},
			sceneRows(scenes, outcomes),
			[]columnAlignment{alignLeft, alignRight},
		))
	}

	if len(runs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable(
			[]string{"Run", "Started", "Status", "Windows", "Scenes", "Failed", "Checkpoint", "Error"},
			runRows(runs, opts.Now),
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
		))
	}

	if len(windows) > 0 {
		fmt.Fprintln(w)
		p.Highlight("Sub-windows of run " + runs[0].ID)
		rows := make([][]string, 0, len(windows))
		for _, win := range windows {
			rows = append(rows, []string{
				win.Start.Format(config.DateLayout), win.End.Format(config.DateLayout),
				strconv.Itoa(win.Fetched), truncate(win.FetchError, 50),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"Start", "End", "Fetched", "Fetch error"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight}))
	}

	if opts.Scene != "" {
		fmt.Fprintln(w)
		if len(history) == 0 {
			p.Info("History of "+opts.Scene, "none recorded")
			return nil
		}
		p.Highlight("History of " + opts.Scene)
		rows := make([][]string, 0, len(history))
		for _, rec := range history {
			rows = append(rows, []string{
				rec.RecordedAt.Format("2006-01-02 15:04"), string(rec.Outcome),
				rec.Duration.Round(time.Millisecond).String(), truncate(rec.Error, 50),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"Recorded", "Outcome", "Duration", "Error"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight}))
	}
	return nil
}

func sceneRows(scenes []storage.Artifacts, outcomes map[string]ledger.SceneRecord) [][]string {
	rows := make([][]string, 0, len(scenes))
	for _, a := range scenes {
		size := "-"
		if info, err := os.Stat(a.Reflectance); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		last := "-"
		if rec, ok := outcomes[a.ID.Key()]; ok {
			last = string(rec.Outcome)
			if rec.Error != "" {
				last += ": " + truncate(rec.Error, 40)
			}
		}
		rows = append(rows, []string{
			a.ID.Key(), size, mark(a.HasAngles()), mark(a.HasLUT()), mark(a.HasTraits()), last,
		})
	}
	return rows
}

func runRows(runs []ledger.Run, now time.Time) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		checkpoint := "-"
		if !r.Checkpoint.IsZero() {
			checkpoint = r.Checkpoint.Format(config.DateLayout)
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, []string{
			id,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Status,
			strconv.Itoa(r.Windows),
			strconv.Itoa(r.Scenes),
			strconv.Itoa(r.Failed),
			checkpoint,
			truncate(r.Error, 40),
		})
	}
	return rows
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
