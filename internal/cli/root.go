// Package cli wires the engine's commands: exec for one-shot runs, serve for
// the realtime server, languages for the catalog.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/config"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/session"
)

var (
	configPath string
	verbose    bool

	version, commit, date string
)

// SetVersionInfo sets version information from ldflags.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "interpreter",
	Short: "Run code in persistent per-language interpreter sessions",
	Long: `interpreter keeps one live interpreter process per language and streams
execution output as typed chunks: console output, active-line markers,
confirmation requests, and errors.

State persists across executions within a session: variables defined by
one run are visible to the next.`,
	Example: `  interpreter exec -l python -c "x = 41 + 1"
  interpreter exec -l shell script.sh
  interpreter serve --config config.yaml
  interpreter languages`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = version
	return rootCmd.Execute()
}

// loadConfig returns the file config when --config is given, defaults
// otherwise.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// newLogger builds the process logger. Debug level with --verbose, warnings
// only otherwise so chunk output stays readable.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildRegistry registers the built-in languages, applies command overrides
// from the config, and adds the kernel language when enabled.
func buildRegistry(cfg *config.Config, log *slog.Logger) *session.Registry {
	reg := session.NewRegistry(log)

	for name, profile := range session.DefaultProfiles() {
		if override, ok := cfg.Languages[name]; ok && len(override.Command) > 0 {
			profile.Command = override.Command
		}
		reg.RegisterSubprocess(profile, cfg.Engine.WorkDir)
	}

	for name := range cfg.Languages {
		if _, known := session.DefaultProfiles()[name]; !known {
			log.Warn("ignoring command override for unknown language", "language", name)
		}
	}

	if cfg.Kernel.Enabled {
		reg.RegisterKernel(cfg.Kernel.Language, session.KernelConfig{
			GatewayURL: cfg.Kernel.GatewayURL,
			Token:      cfg.Kernel.Token,
			KernelName: cfg.Kernel.KernelName,
		})
	}

	return reg
}
