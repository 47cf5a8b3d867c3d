package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/agentsim/pkg/config"
	"github.com/boristopalov/agentsim/pkg/experiment"
	"github.com/boristopalov/agentsim/pkg/logger"
	"github.com/boristopalov/agentsim/pkg/messaging"
	"github.com/boristopalov/agentsim/pkg/metrics"
)

const progressSubscriber = "cli"

func main() {
	rootCmd := &cobra.Command{
		Use:          "agentsim",
		Short:        "agentsim runs controllers against a stepped simulation and reports what they earned.",
		SilenceUsage: true,
	}

	var (
		configPath  string
		metricsAddr string
		logLevel    string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the experiment described by a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd.Context(), configPath, metricsAddr, logLevel)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the experiment config")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	_ = runCmd.MarkFlagRequired("config")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s environment, %d agent groups, %d generations\n",
				cfg.Name, cfg.Environment.Type, len(cfg.Agents), cfg.Generations)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the experiment config")
	_ = validateCmd.MarkFlagRequired("config")

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(runCmd, validateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExperiment(ctx context.Context, path, metricsAddr, logLevel string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger.InitializeWith(cfg.Logging.Level, logger.LogFormat(strings.ToUpper(cfg.Logging.Format)))
	defer logger.Sync()
	log := logger.For(logger.ComponentCLI)

	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		server := metrics.SetupMetricsEndpoint(metricsAddr)
		log.Infof("Serving metrics on %s", metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := messaging.NewBroker()
	defer broker.Reset()
	events := make(chan messaging.Message, 256)
	if err := broker.Subscribe(progressSubscriber, events); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		reportProgress(events)
	}()

	exp := experiment.New(cfg, experiment.WithBroker(broker))
	report, runErr := exp.Run(ctx)

	_ = broker.Unsubscribe(progressSubscriber)
	close(events)
	<-done

	for _, g := range report.Generations {
		fmt.Printf("generation %d: %s after %d steps, total %.2f, average %.2f, stddev %.2f\n",
			g.Generation, g.Result.FinalState, g.Result.StepsElapsed, g.Stats.Total, g.Stats.Average, g.Stats.StdDev)
		for _, c := range g.Result.Controllers {
			status := "ok"
			if c.Disabled {
				status = "disabled"
			}
			fmt.Printf("  %-16s %10.2f  %s\n", c.ControllerID, c.TotalReward, status)
		}
	}
	return runErr
}

// reportProgress logs lifecycle events until events is closed.
func reportProgress(events <-chan messaging.Message) {
	log := logger.For(logger.ComponentCLI)
	for msg := range events {
		switch content := msg.Content.(type) {
		case messaging.RunStarted:
			log.Infof("Run %s started with %s", content.RunID, strings.Join(content.Controllers, ", "))
		case messaging.StepCompleted:
			log.Debugf("Step %d took %s: %v", content.Step, content.Duration, content.Rewards)
		case messaging.ControllerDisabled:
			log.Warnf("Controller %s disabled: %s", content.ControllerID, content.Reason)
		case messaging.RunStopped:
			if content.Err != nil {
				log.Errorf("Run %s stopped in %s after %d steps: %v", content.RunID, content.State, content.Steps, content.Err)
			} else {
				log.Infof("Run %s stopped in %s after %d steps", content.RunID, content.State, content.Steps)
			}
		}
	}
}
