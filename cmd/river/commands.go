package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"slackriver/internal/app"
	"slackriver/internal/config"
)

func newRootCmd() *cobra.Command {
	var cfgPath, envFile string

	root := &cobra.Command{
		Use:   "river",
		Short: "Show a Slack channel as a river of on-screen messages",
		Long: `river polls one Slack channel and shows every new message as a
transient notification: a scrolling terminal marquee, a desktop
notification, or a log line.

The bearer token may come from SLACK_TOKEN instead of the config file.
A .env file in the working directory is loaded when present.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRiver(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (.json, .yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Follow the channel until interrupted (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRiver(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Parse and validate the config, then print a redacted summary",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return checkConfig(cmd, cfgPath)
			},
		},
	)
	return root
}

// loadEnvFile loads a dotenv file. A missing default file is fine; a
// missing file named on the command line is not.
func loadEnvFile(path string, explicit bool) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func runRiver(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSIGINT
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func checkConfig(cmd *cobra.Command, cfgPath string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: %s\n", cfgPath)
	fmt.Fprintf(out, "  slack.channel_id   %s\n", cfg.Slack.ChannelID)
	fmt.Fprintf(out, "  slack.token        %s\n", redact(cfg.Slack.Token))
	fmt.Fprintf(out, "  slack.poll_interval %s\n", orDefault(cfg.Slack.PollInterval, "5s"))
	fmt.Fprintf(out, "  display.mode       %s\n", orDefault(cfg.Display.Mode, "terminal"))
	driver := "none"
	if cfg.Storage != nil && strings.TrimSpace(cfg.Storage.Driver) != "" {
		driver = cfg.Storage.Driver
	}
	fmt.Fprintf(out, "  storage.driver     %s\n", driver)
	fmt.Fprintf(out, "  status.schedule    %s\n", orDefault(cfg.Status.Schedule, "off"))
	return nil
}

func redact(secret string) string {
	s := strings.TrimSpace(secret)
	if len(s) <= 8 {
		return "****"
	}
	return s[:5] + "…" + s[len(s)-2:]
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
