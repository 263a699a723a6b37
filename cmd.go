package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wfunc/cardduel/broadcast"
	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/config"
	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/monitor"
	"github.com/wfunc/cardduel/persistence"
	"github.com/wfunc/cardduel/room"
	"github.com/wfunc/cardduel/rpc"
	"github.com/wfunc/cardduel/server"
	"github.com/wfunc/cardduel/services"
	"github.com/wfunc/cardduel/session"
	"github.com/wfunc/cardduel/solo"
	"github.com/wfunc/cardduel/state"
	"github.com/wfunc/cardduel/timer"
)

const (
	heartbeatInterval = 30 * time.Second
	sendQueueSize     = 64
	recordQueueSize   = 256
	shutdownTimeout   = 5 * time.Second
)

// newCmd builds the cardduel root command. Flags are bound into the same viper
// instance as the config file and CARDDUEL_* env vars.
func newCmd(v *viper.Viper) *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:           "cardduel",
		Short:         "Two-player card guessing game server.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath, verbose)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
				return err
			}
			defer logger.Sync()
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&configPath, "config", "c", ".", "directory holding config.yaml")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	flags := cmd.Flags()
	flags.String("http-address", ":8080", "HTTP and websocket listen address (env: CARDDUEL_SERVER_HTTP_ADDRESS)")
	flags.String("log-level", "info", "log level (env: CARDDUEL_LOG_LEVEL)")
	_ = v.BindPFlag("server.http_address", flags.Lookup("http-address"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	cmd.AddCommand(newStatsCmd(v, &configPath))
	return cmd
}

func loadConfig(v *viper.Viper, path string, verbose bool) (*config.Config, error) {
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newStatsCmd queries a running server over net/rpc.
func newStatsCmd(v *viper.Viper, configPath *string) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print live room and match statistics of a running server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configPath)
			if err != nil {
				return err
			}
			addr := cfg.Server.RPCAddress
			if strings.HasPrefix(addr, ":") {
				addr = "127.0.0.1" + addr
			}

			client, err := rpc.Dial(addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer client.Close()

			out := map[string]any{}
			stats, err := client.GetStats()
			if err != nil {
				return err
			}
			out["live"] = stats.Live
			out["outcomes"] = stats.Outcomes
			if recent > 0 {
				matches, err := client.RecentMatches(recent)
				if err != nil {
					return err
				}
				out["recent"] = matches
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 0, "also list this many recent matches")
	return cmd
}

// run wires every component and blocks until ctx is cancelled or the HTTP
// server fails.
func run(ctx context.Context, cfg *config.Config) error {
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Log.Infof("Catalog loaded with %d cards", cat.Len())

	db, err := persistence.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Log.Infof("Match history store: %s", cfg.Database.Driver)

	matches := services.NewMatchService(db, recordQueueSize)
	defer matches.Close()

	mon := monitor.NewMonitor("cardduel")
	if cfg.Server.MetricsAddress != "" {
		metricsSrv := mon.StartServer(cfg.Server.MetricsAddress)
		defer metricsSrv.Close()
	}

	timers := timer.NewTimerManager()
	defer timers.Stop()

	sessions := session.NewManager()
	rooms := room.NewRoomManager(cat, sessions, timers, room.Options{
		Timing: state.Timing{
			TurnTimeout:  cfg.Game.TurnTimeout,
			NewTurnDelay: cfg.Game.NewTurnDelay,
		},
		DefaultMaxTurns: cfg.Game.DefaultMaxTurns,
		MaxTurnsLimit:   cfg.Game.MaxTurnsLimit,
		IdleTimeout:     cfg.Game.RoomIdleTimeout,
	})
	rooms.SetBroadcaster(broadcast.NewRoomBroadcaster(rooms, sessions))
	rooms.SetRecorder(matches)
	rooms.SetObserver(mon)

	soloStore := solo.NewStore(cat, cfg.Game.SinglePlayerMaxAttempts, cfg.Game.SinglePlayerTTL)
	limiter := solo.NewCooldownLimiter(solo.CooldownConfig{
		Base:    cfg.RateLimit.BaseCooldown,
		Penalty: cfg.RateLimit.PenaltyCooldown,
		Window:  cfg.RateLimit.StrikeWindow,
	})

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewGameService(rooms, matches))
	if err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	defer rpcServer.Stop()

	health, err := rpc.NewHealthServer(cfg.Server.GRPCAddress)
	if err != nil {
		return fmt.Errorf("grpc health server: %w", err)
	}
	defer health.Stop()

	gameServer := server.NewGameServer(server.Options{
		Address:           cfg.Server.HTTPAddress,
		PublicURL:         cfg.Server.PublicURL,
		Heartbeat:         heartbeatInterval,
		SendQueue:         sendQueueSize,
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		MessageBurst:      cfg.RateLimit.MessageBurst,
	}, rooms, sessions, cat, soloStore, limiter, mon)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- rooms.Run(loopCtx) }()

	stopBackground := make(chan struct{})
	go soloStore.RunReaper(stopBackground)
	go limiter.RunPruner(stopBackground)
	go rpcServer.Start()
	go health.Start()
	health.SetServing(true)

	httpDone := make(chan error, 1)
	go func() { httpDone <- gameServer.Start() }()

	select {
	case <-ctx.Done():
		logger.Log.Info("Shutdown signal received")
	case err = <-httpDone:
		logger.Log.Errorf("HTTP server stopped: %v", err)
	}

	health.SetServing(false)
	close(stopBackground)

	// 先停事件循环，让它通知所有连接，再关闭连接
	stopLoop()
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := gameServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Log.Warnf("HTTP shutdown: %v", shutdownErr)
	}

	matches.Close()
	logger.Log.Infof("Stopped; %d match records saved, %d dropped", matches.Saved(), matches.Dropped())
	return err
}
