package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/logging"
	"github.com/kozaktomas/face-organizer/internal/reference"
	"github.com/spf13/cobra"
)

var embeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Inspect reference embeddings",
}

var embeddingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the people in a reference embeddings folder",
	Long: `List every identity found in the reference folder. Files that cannot be
read are reported and skipped, exactly as an organize run would skip them.

Examples:
  face-organizer embeddings list -e ./embeddings
  face-organizer embeddings list -e ./embeddings --filter novak`,
	RunE: runEmbeddingsList,
}

func init() {
	rootCmd.AddCommand(embeddingsCmd)
	embeddingsCmd.AddCommand(embeddingsListCmd)

	embeddingsListCmd.Flags().StringP("embeddings", "e", "", "Reference embeddings folder (default EMBEDDINGS_DIR)")
	embeddingsListCmd.Flags().String("filter", "", "Only names containing this text (case and accent insensitive)")
	embeddingsListCmd.Flags().Bool("json", false, "Output as JSON")
}

// resolveEmbeddingsDir returns the --embeddings flag or the configured directory.
func resolveEmbeddingsDir(cmd *cobra.Command, cfg *config.Config) (string, error) {
	dir := mustGetString(cmd, "embeddings")
	if dir == "" {
		dir = cfg.Embeddings.Dir
	}
	if dir == "" {
		return "", errors.New("no embeddings folder: pass --embeddings or set EMBEDDINGS_DIR")
	}
	return dir, nil
}

func runEmbeddingsList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	dir, err := resolveEmbeddingsDir(cmd, cfg)
	if err != nil {
		return err
	}

	logger, closeLog := logging.Setup(cfg.Log.File, cfg.Log.Level)
	defer closeLog()

	set, err := reference.LoadDir(dir, logger)
	if err != nil {
		return err
	}

	names := set.Names()
	if filter := mustGetString(cmd, "filter"); filter != "" {
		names = reference.FilterNames(names, filter)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(map[string]any{
			"persons": names,
			"count":   len(names),
			"dim":     set.Dim(),
		})
	}

	if len(names) == 0 {
		fmt.Println("No reference identities found.")
		return nil
	}
	rows := make([][]string, 0, len(names))
	for i, name := range names {
		rows = append(rows, []string{strconv.Itoa(i + 1), name})
	}
	fmt.Println(renderTable([]string{"#", "Person"}, rows, 0))
	fmt.Printf("%d of %d identities, %d dimensions\n", len(names), set.Len(), set.Dim())
	return nil
}
