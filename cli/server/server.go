package server

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/core"
	"github.com/timgates42/mako/pkg/core/mempool"
	"github.com/timgates42/mako/pkg/network"
)

// NewCommands returns the server commands.
func NewCommands() []cli.Command {
	var cfgFlags = []cli.Flag{
		cli.StringFlag{Name: "config-path", Usage: "directory with per-network configuration files"},
		cli.BoolFlag{Name: "testnet, t", Usage: "use testnet network"},
		cli.BoolFlag{Name: "regtest, r", Usage: "use regtest network"},
		cli.BoolFlag{Name: "signet", Usage: "use signet network"},
		cli.BoolFlag{Name: "simnet", Usage: "use simnet network"},
		cli.BoolFlag{Name: "debug, d", Usage: "enable debug logging"},
	}
	return []cli.Command{
		{
			Name:   "node",
			Usage:  "start the p2p node",
			Action: startServer,
			Flags:  cfgFlags,
		},
	}
}

func newGraceContext() chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	return stop
}

// getConfigFromContext resolves the network and loads its config file.
func getConfigFromContext(ctx *cli.Context) (config.Config, error) {
	var net = config.ModeMainNet
	switch {
	case ctx.Bool("testnet"):
		net = config.ModeTestNet
	case ctx.Bool("regtest"):
		net = config.ModeRegTest
	case ctx.Bool("signet"):
		net = config.ModeSigNet
	case ctx.Bool("simnet"):
		net = config.ModeSimNet
	}
	path := ctx.String("config-path")
	if path == "" {
		path = "./config"
	}
	return config.Load(path, net)
}

// handleLoggingParams builds the logger out of the application
// configuration.
func handleLoggingParams(ctx *cli.Context, cfg config.ApplicationConfiguration) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if ctx.Bool("debug") || cfg.LogLevel == "debug" {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.Encoding = "console"
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Level = zap.NewAtomicLevelAt(level)
	if cfg.LogPath != "" {
		cc.OutputPaths = []string{cfg.LogPath}
	}
	return cc.Build()
}

func startServer(ctx *cli.Context) error {
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, err := handleLoggingParams(ctx, cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	grace := newGraceContext()
	serverConfig := network.NewServerConfig(cfg)

	chain := core.NewBlockchain(cfg.ProtocolConfiguration.Magic, log)
	pool := mempool.New(0)

	serv, err := network.NewServer(serverConfig, chain, pool, network.NewDefaultAddrManager(), log)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "can't create server"), 1)
	}

	log.Info("node configuration",
		zap.Stringer("network", cfg.ProtocolConfiguration.Magic),
		zap.Uint16("port", cfg.ProtocolConfiguration.Port),
		zap.Int("max outbound", serverConfig.MaxOutbound),
		zap.Int("max inbound", serverConfig.MaxInbound))

	errChan := make(chan error)
	go serv.Start(errChan)

	var shutdownErr error
Main:
	for {
		select {
		case err := <-errChan:
			shutdownErr = errors.Wrap(err, "server error")
			cancel(serv)
			break Main
		case <-grace:
			cancel(serv)
			break Main
		}
	}

	if shutdownErr != nil {
		return cli.NewExitError(shutdownErr, 1)
	}
	return nil
}

func cancel(serv *network.Server) {
	serv.Shutdown()
	fmt.Fprintln(os.Stderr, "shutting down")
}
