package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/in-the-loop-labs/pair-review/internal/config"
	"github.com/in-the-loop-labs/pair-review/internal/logging"
	"github.com/in-the-loop-labs/pair-review/internal/server"
)

var (
	servePort    int
	serveDataDir string
	serveNoCORS  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pair-review backend",
	Long: `Start the backend that serves the session API, the analysis run API,
and the SSE event streams the browser client synchronizes against.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Storage directory for sessions and runs")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS headers")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	serverConfig := server.DefaultConfig()
	serverConfig.EnableCORS = !serveNoCORS
	if appConfig.Server.Port > 0 {
		serverConfig.Port = appConfig.Server.Port
	}
	if servePort > 0 {
		serverConfig.Port = servePort
	}
	serverConfig.DataDir = paths.StoragePath()
	if appConfig.Server.DataDir != "" {
		serverConfig.DataDir = appConfig.Server.DataDir
	}
	if serveDataDir != "" {
		serverConfig.DataDir = serveDataDir
	}
	if appConfig.Server.SessionTTLSeconds > 0 {
		serverConfig.SessionTTL = time.Duration(appConfig.Server.SessionTTLSeconds) * time.Second
	}

	srv := server.New(serverConfig)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Int("port", serverConfig.Port).
			Str("dataDir", serverConfig.DataDir).
			Msg("pair-review server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
