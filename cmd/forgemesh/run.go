package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgemesh/forgemesh"
	"github.com/forgemesh/forgemesh/config"
	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
)

var (
	runType         string
	runDescription  string
	runTechnologies []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scaffolding project to completion",
	Long: `Run submits a project request, registers the standard worker profiles
(frontend, backend, database, devops, qa), waits for the project to reach
a terminal state and prints the resulting artifact manifest.

Technologies are given as kind=value pairs, e.g.:

  forgemesh run --type web_application --description "task tracker" \
    --tech backend=FastAPI --tech frontend=React`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProject(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runType, "type", "web_application", "project type (web_application, api_service, fullstack_app)")
	runCmd.Flags().StringVar(&runDescription, "description", "", "what the project should do")
	runCmd.Flags().StringArrayVar(&runTechnologies, "tech", nil, "technology choice as kind=value, repeatable")
}

func runProject(parent context.Context) error {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := newLogger(viper.GetString("log_level"))
	mesh, err := forgemesh.New(func(o *forgemesh.Options) {
		o.Config = cfg
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer mesh.Shutdown()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mesh.RegisterDefaultWorkers(ctx); err != nil {
		return err
	}

	req := core.ProjectRequest{
		Type:         runType,
		Description:  runDescription,
		Technologies: parseTechnologies(runTechnologies),
	}
	projectID, err := mesh.SubmitProject(req)
	if err != nil {
		return err
	}
	fmt.Printf("project %s submitted\n", projectID)

	snap, err := mesh.AwaitProject(ctx, projectID)
	if err != nil {
		// Interrupted: abort the project before exiting.
		cancelErr := mesh.Cancel(projectID)
		if cancelErr != nil {
			return fmt.Errorf("await project: %w (cancel also failed: %v)", err, cancelErr)
		}
		return fmt.Errorf("await project: %w", err)
	}

	fmt.Printf("project %s finished: state=%s progress=%.0f%%\n", projectID, snap.State, snap.Progress*100)
	if snap.Err != nil {
		fmt.Printf("error: [%s] %s (phase %s)\n", snap.Err.Kind, snap.Err.Message, snap.Err.Phase)
	}

	manifest, err := mesh.Manifest(projectID)
	if err != nil {
		return err
	}
	fmt.Printf("manifest (%d artifacts):\n", len(manifest))
	for _, meta := range manifest {
		fmt.Printf("  [%s] %-30s phase=%s generator=%s\n", meta.Kind, meta.Name, meta.Phase, meta.Generator)
	}

	if snap.State != core.ProjectCompleted {
		return fmt.Errorf("project %s %s", projectID, snap.State)
	}
	return nil
}

func parseTechnologies(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	tech := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		tech[key] = value
	}
	return tech
}

func newLogger(level string) logging.Logger {
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = logging.ParseLevel(level)
	cfg.Format = "text"
	cfg.Output = os.Stderr
	cfg.Component = "cli"
	return logging.NewLogger(cfg)
}
