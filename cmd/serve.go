package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control surface",
	Long: `Start the Face Organizer HTTP API.
The API lets a desktop or browser UI load reference embeddings, start and
cancel organize jobs, follow their progress and browse the results.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default from WEB_PORT or 5000)")
	serveCmd.Flags().String("host", "", "Host to bind to (default from WEB_HOST or 127.0.0.1)")
}

// resolveServeHostPort lets flags override the configured address.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)

	a := newApp(cfg)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Warm the detector up so the first job does not wait for model loading
	go func() {
		if err := a.detector.Prepare(ctx); err != nil {
			a.logger.Warn("face detector not ready yet", "url", cfg.Detector.URL, "error", err)
		}
	}()

	server := web.NewServer(cfg, a.manager, a.detector, a.logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if a.manager.RequestCancel() {
			if err := a.manager.Wait(shutdownCtx); err != nil {
				fmt.Printf("Organize job did not stop in time: %v\n", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Face Organizer API on http://%s:%d/api/v1\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Printf("Reference identities loaded: %d\n", a.manager.References().Len())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
