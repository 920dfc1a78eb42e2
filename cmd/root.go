package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-organizer",
	Short: "Sort photos into per-person folders by face",
	Long: `Face Organizer scans a folder of photos, detects faces through an
embedding server and copies every photo into a folder for each known
person it shows. Known people are given as one reference embedding file
per person (.npy or .json).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
