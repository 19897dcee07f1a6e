package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/webitel/im-realtime-bench/config"
)

const (
	ServiceName      = "im-realtime-bench"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Short polling, long polling and push delivery benchmark service",
		Commands: []*cli.Command{
			serverCmd(),
			versionCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the HTTP and websocket server",
		ArgsUsage: "[-- --http.addr=:9090 --store.driver=sqlite ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config_file",
				Usage:   "Path to the configuration file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			// [OVERRIDES] Everything after "--" is parsed as config key flags
			fs := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
			config.BindFlags(fs)
			if err := fs.Parse(c.Args().Slice()); err != nil {
				return fmt.Errorf("parse overrides: %w", err)
			}

			cfg, err := config.LoadConfig(c.String("config_file"), fs)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+5*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer,
				"%s/%s %s\ncommit: %s (%s)\nbranch: %s\nbuilt: %s\n",
				ServiceNamespace, ServiceName, version, commit, commitDate, branch, buildTimestamp,
			)
			return err
		},
	}
}
