// duocall-relay is the signaling relay for duocall rooms.
//
// It accepts WebSocket clients on /ws, pairs them in rooms of two and
// forwards offers, answers, candidates and control messages between them.
// Room occupancy is optionally mirrored to Redis.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/relay"
	"github.com/1ureka/duocall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := pflag.NewFlagSet("duocall-relay", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	addr := flags.String("addr", "", "listen address (overrides relay.addr)")
	redisAddr := flags.String("redis", "", "Redis address for the presence mirror")
	debugMode := flags.Bool("debug", false, "enable debug logging")
	_ = flags.Parse(os.Args[1:])

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Printfln("duocall-relay — v%s", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}
	if *redisAddr != "" {
		cfg.Relay.Redis.Addr = *redisAddr
	}
	if err := cfg.ValidateRelay(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	var presence relay.Presence = relay.NopPresence{}
	if cfg.Relay.Redis.Addr != "" {
		rp, err := relay.NewRedisPresence(ctx, &redis.Options{
			Addr:     cfg.Relay.Redis.Addr,
			Password: cfg.Relay.Redis.Password,
			DB:       cfg.Relay.Redis.DB,
		}, cfg.Relay.PresenceTTL)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		defer rp.Close()
		presence = rp
		util.LogInfo("mirroring presence to redis at %s", cfg.Relay.Redis.Addr)
	}
	if cfg.Relay.JWTSecret == "" {
		util.LogWarning("no jwt_secret set, rooms are open to anyone")
	}

	if err := relay.NewServer(cfg.Relay, presence).Run(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("relay stopped")
}
