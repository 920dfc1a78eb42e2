package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/constants"
	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/imageio"
	"github.com/kozaktomas/face-organizer/internal/logging"
	"github.com/kozaktomas/face-organizer/internal/reference"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <photo>",
	Short: "Show the closest known people for each face in a photo",
	Long: `Detect the faces in one photo and list the nearest reference identities
for each, with their cosine similarity. Useful for picking a threshold.

Examples:
  face-organizer identify -e ./embeddings party.jpg
  face-organizer identify -e ./embeddings -k 5 --json party.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().StringP("embeddings", "e", "", "Reference embeddings folder (default EMBEDDINGS_DIR)")
	identifyCmd.Flags().IntP("limit", "k", constants.DefaultIdentifyLimit, "Number of identities per face")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

type identifiedFace struct {
	Face     int                  `json:"face"`
	BBox     []float64            `json:"bbox,omitempty"`
	DetScore float64              `json:"det_score"`
	Matches  []reference.Neighbor `json:"matches"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	dir, err := resolveEmbeddingsDir(cmd, cfg)
	if err != nil {
		return err
	}
	k := min(mustGetInt(cmd, "limit"), constants.MaxIdentifyLimit)
	if k <= 0 {
		return errors.New("--limit must be positive")
	}

	logger, closeLog := logging.Setup(cfg.Log.File, cfg.Log.Level)
	defer closeLog()

	set, err := reference.LoadDir(dir, logger)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		return fmt.Errorf("no reference identities in %s", dir)
	}

	img, err := imageio.Load(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	det := detector.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.MaxImageSize)
	if err := det.Prepare(ctx); err != nil {
		return fmt.Errorf("face detector at %s: %w", cfg.Detector.URL, err)
	}
	faces, err := det.Detect(ctx, img)
	if err != nil {
		return err
	}

	index := set.Index()
	result := make([]identifiedFace, 0, len(faces))
	for i, f := range faces {
		result = append(result, identifiedFace{
			Face:     i + 1,
			BBox:     f.BBox,
			DetScore: f.DetScore,
			Matches:  index.Nearest(f.Embedding, k),
		})
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(result)
	}

	if len(result) == 0 {
		fmt.Println("No faces found.")
		return nil
	}
	var rows [][]string
	for _, f := range result {
		for rank, n := range f.Matches {
			face := ""
			if rank == 0 {
				face = strconv.Itoa(f.Face)
			}
			rows = append(rows, []string{face, strconv.Itoa(rank + 1), n.Name, strconv.FormatFloat(n.Similarity, 'f', 3, 64)})
		}
	}
	fmt.Println(renderTable([]string{"Face", "Rank", "Person", "Similarity"}, rows, 1, 3))
	fmt.Printf("%d face(s), model %s\n", len(result), det.Model())
	return nil
}
