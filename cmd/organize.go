package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/constants"
	"github.com/kozaktomas/face-organizer/internal/organizer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Copy photos into per-person folders",
	Long: `Scan the input folder recursively, detect faces in every photo and copy
each photo into <output>/<person>/ for every known person it matches.
Originals are never moved or modified; name clashes get _1, _2, ... suffixes.

Ctrl+C stops the job after the photos in progress; everything organized so
far stays in place.

Examples:
  face-organizer organize -i ~/Pictures/unsorted -o ~/Pictures/people -e ./embeddings
  face-organizer organize -i ./in -o ./out --threshold 0.6 --all-orientations`,
	RunE: runOrganize,
}

func init() {
	rootCmd.AddCommand(organizeCmd)

	organizeCmd.Flags().StringP("input", "i", "", "Folder with photos to organize")
	organizeCmd.Flags().StringP("output", "o", "", "Folder to create person folders in")
	organizeCmd.Flags().StringP("embeddings", "e", "", "Reference embeddings folder (default EMBEDDINGS_DIR)")
	organizeCmd.Flags().Float64("threshold", constants.DefaultSimilarityThreshold, "Minimum cosine similarity for a match (0-1)")
	organizeCmd.Flags().Bool("all-orientations", false, "Also try photos rotated by 90, 180 and 270 degrees")
	organizeCmd.Flags().Int("workers", 0, "Parallel workers (default: CPU count, max 8)")
	organizeCmd.Flags().Bool("json", false, "Output results as JSON")
	_ = organizeCmd.MarkFlagRequired("input")
	_ = organizeCmd.MarkFlagRequired("output")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if workers := mustGetInt(cmd, "workers"); workers > 0 {
		cfg.Organizer.Workers = workers
	}
	threshold := cfg.Defaults.Threshold.Default
	if cmd.Flags().Changed("threshold") {
		threshold = mustGetFloat64(cmd, "threshold")
	}
	jsonOutput := mustGetBool(cmd, "json")

	a := newApp(cfg)
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err := a.manager.Start(ctx, organizer.StartRequest{
		InputPath:       mustGetString(cmd, "input"),
		OutputPath:      mustGetString(cmd, "output"),
		Threshold:       threshold,
		AllOrientations: mustGetBool(cmd, "all-orientations"),
		EmbeddingsDir:   mustGetString(cmd, "embeddings"),
	})
	if err != nil {
		if errors.Is(err, organizer.ErrNoReferences) {
			return fmt.Errorf("%w: pass --embeddings or set EMBEDDINGS_DIR", err)
		}
		return err
	}

	go func() {
		<-ctx.Done()
		if a.manager.RequestCancel() {
			fmt.Fprintln(os.Stderr, "\nCancelling, waiting for photos in progress...")
		}
	}()

	if !jsonOutput && isTerminal(os.Stdout) {
		followProgress(a.manager)
	} else if err := a.manager.Wait(context.Background()); err != nil {
		return err
	}

	snapshot := a.manager.Progress()
	results := a.manager.Results()
	if jsonOutput {
		if err := outputJSON(results); err != nil {
			return err
		}
	} else {
		printOrganizeSummary(snapshot, results)
	}

	if snapshot.Status == organizer.StatusFailed {
		return errors.New(snapshot.Error)
	}
	return nil
}

// followProgress renders a progress bar until the job finishes.
func followProgress(m *organizer.Manager) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Organizing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	done := make(chan struct{})
	go func() {
		_ = m.Wait(context.Background())
		close(done)
	}()

	ticker := time.NewTicker(constants.ProgressPollInterval)
	defer ticker.Stop()

	total := -1
	update := func() {
		p := m.Progress().Progress
		if p.Total > 0 && p.Total != total {
			total = p.Total
			bar.ChangeMax(total)
		}
		_ = bar.Set(p.Scanned)
	}

	for {
		select {
		case <-done:
			update()
			_ = bar.Finish()
			fmt.Println()
			return
		case <-ticker.C:
			update()
		}
	}
}

func printOrganizeSummary(snapshot organizer.ProgressSnapshot, results organizer.ResultsSnapshot) {
	switch snapshot.Status {
	case organizer.StatusFailed:
		fmt.Printf("Organize failed: %s\n", snapshot.Error)
		return
	case organizer.StatusCancelled:
		fmt.Println("Organize cancelled, partial results:")
	}

	if len(results.Persons) > 0 {
		rows := make([][]string, 0, len(results.Persons))
		for _, p := range results.Persons {
			best := 0.0
			for _, ph := range p.Photos {
				best = max(best, ph.Similarity)
			}
			rows = append(rows, []string{p.Name, strconv.Itoa(p.PhotoCount), strconv.FormatFloat(best, 'f', 3, 64)})
		}
		fmt.Println(renderTable([]string{"Person", "Photos", "Best match"}, rows, 1, 2))
	}

	fmt.Printf("Scanned:   %d of %d\n", results.TotalScanned, snapshot.Progress.Total)
	fmt.Printf("Organized: %d copies\n", results.TotalOrganized)
	if snapshot.StartedAt != nil && snapshot.CompletedAt != nil {
		fmt.Printf("Duration:  %s\n", snapshot.CompletedAt.Sub(*snapshot.StartedAt).Round(time.Second))
	}
}
