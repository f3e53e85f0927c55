package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"outer/common"
	"outer/logger"
	"outer/srv/sqlite"
	"outer/telemetry"
	"outer/upstream"
	"outer/ws"
)

func main() {
	_ = godotenv.Load()
	log := logger.Get()

	cmd := &cli.Command{
		Name:  "outer",
		Usage: "Collaborative OpenCode server",
		Commands: []*cli.Command{
			NewStartCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func NewStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start the outer server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file"},
			&cli.BoolFlag{Name: "trace", Usage: "Emit OpenTelemetry traces to stdout"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return start(ctx, cmd)
		},
	}
}

func start(ctx context.Context, cmd *cli.Command) error {
	log := logger.Get()

	if configPath := cmd.String("config"); configPath != "" {
		config, err := common.LoadOuterConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		common.ApplyConfigEnv(config)
	}

	if cmd.Bool("trace") {
		os.Setenv("OUTER_OTEL_ENABLED", "true")
	}
	shutdownTracer, err := telemetry.InitTracer("outer")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracer(context.Background())

	db, err := sqlite.NewDB(common.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer db.Close()
	storage := sqlite.NewStorage(db)

	upstreamClient := upstream.NewHTTPClient(common.GetUpstreamBaseURL())

	httpServer := ws.RunServer(storage, upstreamClient)
	log.Info().
		Int("port", common.GetServerPort()).
		Str("upstream", common.GetUpstreamBaseURL()).
		Msg("outer server started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
