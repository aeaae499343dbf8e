package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/interpreter"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/realtime"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime execution server",
	Long: `serve starts the WebSocket and REST server. WebSocket clients submit code,
approve confirmations, cancel executions, and receive the chunk stream;
the workspace watcher broadcasts file changes made by executed code.`,
	Example: `  interpreter serve
  interpreter serve --config config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	reg := buildRegistry(cfg, log)
	defer reg.ResetAll()

	in := interpreter.New(reg, log)

	// The watcher callback needs the server, so wire it in two steps.
	var srv *realtime.Server
	var watch *watcher.Watcher
	if cfg.Watcher.Enabled {
		watch, err = watcher.New(cfg.Engine.WorkDir, func(p protocol.FilesUpdatePayload) {
			if srv != nil {
				srv.OnFilesUpdate(p)
			}
		}, log)
		if err != nil {
			log.Warn("workspace watcher disabled", "error", err)
			watch = nil
		} else {
			defer watch.Close()
		}
	}

	srv = realtime.New(in, watch, cfg.Engine.AutoRun, log)

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down")
		srv.Shutdown()
		reg.ResetAll()
		httpServer.Shutdown(context.Background())
	}()

	log.Info("server listening", "addr", cfg.Addr())
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
