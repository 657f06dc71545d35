package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/config"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imaging"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/logging"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/objectstore"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/repo"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cache core and wait for shutdown",
	RunE:  runServe,
}

func init() {
	config.BindFlags(serveCmd, "serve")
	serveCmd.Flags().String("log-path", "", "Append structured JSONL events to this file (empty disables)")
	serveCmd.Flags().String("run-id", "", "Run identifier stamped on every event (default: $HOSTNAME)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg := config.Load("serve")

	runID, _ := cmd.Flags().GetString("run-id")
	if runID == "" {
		runID = os.Getenv("HOSTNAME")
	}

	var sinks []logging.Sink
	logPath, _ := cmd.Flags().GetString("log-path")
	if logPath != "" {
		w, err := logging.NewJSONLWriter(logPath)
		if err != nil {
			return fmt.Errorf("imagerepod: %w", err)
		}
		defer w.Close()
		sinks = append(sinks, w)
	}
	emitter := logging.NewEmitter(logging.EmitterConfig{RunID: runID, AgentSystem: "imagerepod"}, sinks...)
	defer emitter.Close()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("imagerepod: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	opts := cfg.RepoOptions()
	opts.Backend = imaging.NewLocalBackend()
	opts.Store = store
	opts.Logger = logging.NewTierLogAdapter(emitter)

	master, err := repo.New(opts)
	if err != nil {
		return fmt.Errorf("imagerepod: start cache core: %w", err)
	}

	fmt.Fprintln(os.Stderr, "imagerepod: cache core ready")
	<-ctx.Done()

	fmt.Fprintln(os.Stderr, "imagerepod: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	return master.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Context) (objectstore.Store, func(), error) {
	store, err := objectstore.NewGCSStore(ctx, objectstore.GCSOptions{CredentialsFile: cfg.Credentials})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
