package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/logging"
	"github.com/layerctl/layerctl/pkg/recipe"
	"github.com/layerctl/layerctl/pkg/state"
	"github.com/layerctl/layerctl/pkg/telemetry"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	logFile   string

	shutdownTelemetry telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "layerctl",
	Short: "Cache-aware container image builder",
	Long: `Layerctl builds container images for Python applications from a small recipe.

The dependency manager is installed first, then only the dependency manifest
and lockfile are copied and dependencies installed, and only then is the rest
of the application copied. Source edits never invalidate the dependency layer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		shutdown, err := telemetry.Setup(cmd.Context(), version)
		if err != nil {
			return err
		}
		shutdownTelemetry = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTelemetry == nil {
			return nil
		}
		return shutdownTelemetry(context.WithoutCancel(cmd.Context()))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a rotating file instead of stderr (build defaults to ~/.layerctl/logs/<recipe>.log)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the structured logger for a component. Secrets are
// masked in every record.
func newLogger(component string, secrets ...string) *slog.Logger {
	return logging.NewStructuredLogger(logging.Config{
		Level:     logging.ParseLevel(logLevel),
		Format:    logging.ParseFormat(logFormat),
		Output:    os.Stderr,
		File:      logFile,
		Component: component,
		Secrets:   secrets,
	})
}

// recipeLogger is newLogger for commands tied to one recipe. Without
// --log-file the records go to the recipe's rotating log under the layerctl
// home, falling back to stderr if that directory cannot be created.
func recipeLogger(component, name string) (*slog.Logger, string) {
	file := logFile
	if file == "" {
		if err := state.EnsureLogDir(); err == nil {
			file = state.LogPath(name)
		}
	}
	return logging.NewStructuredLogger(logging.Config{
		Level:     logging.ParseLevel(logLevel),
		Format:    logging.ParseFormat(logFormat),
		Output:    os.Stderr,
		File:      file,
		Component: component,
	}), file
}

// recipePath returns the recipe argument or the default file name.
func recipePath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return recipe.DefaultFile
}

func loadRecipe(args []string) (*recipe.Recipe, error) {
	r, err := recipe.Load(recipePath(args))
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	return r, nil
}

// connectDocker creates a client and checks the daemon is reachable.
func connectDocker(ctx context.Context) (dockerclient.DockerClient, error) {
	cli, err := dockerclient.New()
	if err != nil {
		return nil, err
	}
	if err := dockerclient.Ping(ctx, cli); err != nil {
		cli.Close()
		return nil, err
	}
	return cli, nil
}
