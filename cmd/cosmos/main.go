// Command cosmos is the CLI front-end to the workflow engine: initdb,
// resetdb, run, status and kill, grounded on the teacher's
// cmd/conductor main() + internal/cli/internal/commands tree, collapsed
// here into a single spf13/cobra command tree since the engine's
// surface is far smaller than the teacher's full agent CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LPM-HMS/cosmos2/cosmos"
	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
	"github.com/LPM-HMS/cosmos2/internal/config"
	"github.com/LPM-HMS/cosmos2/internal/log"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	cfgPath      string
	databaseURL  string
	defaultDRM   string
	defaultQueue string
)

func main() {
	root := &cobra.Command{
		Use:          "cosmos",
		Short:        "Workflow orchestration engine for computational pipelines",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a cosmos config file")
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "override the config file's database_url")
	root.PersistentFlags().StringVar(&defaultDRM, "default-drm", "", "override the config file's default_drm (local, lsf, ge)")
	root.PersistentFlags().StringVar(&defaultQueue, "default-queue", "", "override the config file's default_queue")

	root.AddCommand(
		newVersionCmd(),
		newInitDBCmd(),
		newResetDBCmd(),
		newRunCmd(),
		newStatusCmd(),
		newKillCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("cosmos %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

// buildEngine loads the config file plus flag overrides and assembles a
// ready-to-use Engine. tools is empty on the CLI path beyond the
// built-in "shell" tool (cosmos/tool.NewShell); embedding applications
// register their own Tool descriptors in code and call cosmos.New
// directly instead of going through this CLI.
func buildEngine(ctx context.Context) (*cosmos.Engine, *slog.Logger, error) {
	fileCfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if databaseURL != "" {
		fileCfg.DatabaseURL = databaseURL
	}
	if defaultDRM != "" {
		fileCfg.DefaultDRM = defaultDRM
	}
	if defaultQueue != "" {
		fileCfg.DefaultQueue = defaultQueue
	}
	if err := fileCfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := log.New(fileCfg.LoggerConfig())

	tools := tool.NewRegistry()
	if err := tools.Register(tool.NewShell("shell", nil, nil)); err != nil {
		return nil, nil, err
	}

	engineCfg := fileCfg.EngineConfig()
	engineCfg.Log = logger
	dbURL, err := cosmos.CoerceDatabaseURL(engineCfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	engineCfg.DatabaseURL = dbURL

	engine, err := cosmos.New(engineCfg, tools)
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the state store's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.InitDB(cmd.Context())
		},
	}
}

func newResetDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resetdb",
		Short: "Drop and recreate the state store's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.ResetDB(cmd.Context())
		},
	}
}

func newRunCmd() *cobra.Command {
	var name, outputDir string
	cmd := &cobra.Command{
		Use:   "run <recipe.yaml>",
		Short: "Build a Recipe and drive it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, logger, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read recipe: %w", err)
			}
			rec, err := recipe.LoadYAML(data)
			if err != nil {
				return err
			}
			if outputDir == "" {
				outputDir, err = os.Getwd()
				if err != nil {
					return err
				}
			}
			if name == "" {
				name = "cosmos-run"
			}

			exec, runErr := engine.Run(ctx, name, outputDir, rec)
			if exec != nil {
				fmt.Printf("execution %s: %s\n", exec.ID, exec.Status)
			}
			var execFailed *cosmoserrors.ExecutionFailed
			if runErr != nil {
				if errors.As(runErr, &execFailed) {
					logger.Error("execution failed", "execution_id", execFailed.ExecutionID)
					os.Exit(1)
				}
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "execution name")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "execution output directory (default: cwd)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Print an Execution's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			exec, err := engine.Store.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", exec.ID, exec.Status)
			return nil
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <execution-id>",
		Short: "Kill a running Execution and every in-flight DRM job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.Kill(cmd.Context(), args[0])
		},
	}
}
