// duocall is a terminal call client.
//
// It joins a room on a duocall relay, calls whoever else is in it over
// WebRTC and offers a line-based chat with a few slash commands. Local
// media comes from a synthetic device.
//
// It can be launched interactively (no --room) or fully from flags and
// the config file.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/duocall/internal/booking"
	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	flags := pflag.NewFlagSet("duocall", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	signalURL := flags.String("signal-url", "", "relay WebSocket URL (ws:// or wss://)")
	room := flags.String("room", "", "room to join")
	token := flags.String("token", "", "relay join token")
	bookingID := flags.String("booking", "", "booking id to show participant names for")
	noAudio := flags.Bool("no-audio", false, "do not send audio")
	noVideo := flags.Bool("no-video", false, "do not send video")
	loopback := flags.Bool("loopback", false, "gather loopback ICE candidates (same-host calls)")
	debugMode := flags.Bool("debug", false, "enable debug logging")
	_ = flags.Parse(os.Args[1:])

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("duocall — v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *signalURL != "" {
		normalized, err := normalizeWSURL(*signalURL)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.Signal.URL = normalized
	}
	if *room != "" {
		cfg.Room = *room
	}
	if *token != "" {
		cfg.Signal.Token = *token
	}
	if *noAudio {
		cfg.Media.Audio = false
	}
	if *noVideo {
		cfg.Media.Video = false
	}
	if *loopback {
		cfg.ICE.IncludeLoopback = true
	}
	if err := cfg.ValidateClient(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	if cfg.Room == "" {
		cfg.Room = askRoom()
	}
	if *bookingID != "" {
		showParticipants(ctx, cfg, *bookingID)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("call ended")
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func run(ctx context.Context, cfg *config.Config) error {
	opts, err := call.NewOptions(cfg, media.NewSyntheticDevice())
	if err != nil {
		return fmt.Errorf("set up webrtc: %w", err)
	}
	ctrl := call.New(opts)
	defer ctrl.Leave()

	var (
		mu   sync.Mutex
		last call.Status = -1
	)
	ctrl.OnChange(func(st call.State) {
		mu.Lock()
		changed := st.Status != last
		last = st.Status
		mu.Unlock()
		if changed {
			printStatus(st)
		}
	})

	if err := ctrl.Join(ctx, cfg.Room); err != nil {
		return err
	}
	util.StartStatsReporter(ctx, ctrl.Stats(), 10*time.Second)

	pterm.Info.Println("Type a message and press Enter. /help lists commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, ctrl, line); quit {
				return nil
			}
		}
	}
}

func printStatus(st call.State) {
	switch st.Status {
	case call.StatusConnected:
		util.LogSuccess("connected to %s", st.PeerID)
	case call.StatusWaiting:
		util.LogInfo("in room %s, waiting for peer", st.RoomID)
	case call.StatusRoomFull:
		util.LogError("room is full")
	case call.StatusDisconnected:
		util.LogError("lost the relay: %s", st.LastError)
	default:
		util.LogDebug("status: %s", st.Status)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// showParticipants prints the display names of a booking, if the booking
// service is configured.
func showParticipants(ctx context.Context, cfg *config.Config, id string) {
	names, err := booking.NewClient(cfg.Booking).DisplayNames(ctx, id)
	if err != nil {
		util.LogWarning("booking %s: %v", id, err)
		return
	}
	pterm.Info.Println("Participants: " + strings.Join(names, ", "))
}

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askRoom prompts for a room id until a non-empty one is entered.
func askRoom() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room to join").
			Show()

		if room := strings.TrimSpace(raw); room != "" {
			pterm.Println()
			return room
		}

		util.LogWarning("room must not be empty")
		pterm.Println()
	}
}
