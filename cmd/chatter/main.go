// Chatter — CLI entry point.
//
// Joins a room on the signaling relay and negotiates a direct audio/video
// connection with the other peer in it. Can be launched interactively (no
// flags) or non-interactively via -relay and -room.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/chatter-io/chatter/internal/call"
	"github.com/chatter-io/chatter/internal/config"
	"github.com/chatter-io/chatter/internal/session"
	"github.com/chatter-io/chatter/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", "", "Directory holding chatter.yaml (optional)")
	relayURL := flag.String("relay", "", "Relay WebSocket URL (overrides config)")
	roomID := flag.String("room", "", "Room to join (skips the prompt)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Chatter — v%s", version))
	pterm.Println()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		util.LogError("load config: %v", err)
		os.Exit(1)
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}

	sess := session.New(session.Config{
		RelayURL:          cfg.Relay.URL,
		ReconnectAttempts: cfg.Signal.ReconnectAttempts,
		ReconnectDelay:    cfg.Signal.ReconnectDelay,
		ICEServers:        cfg.ICEServers,
		Notifier:          termNotifier{},
	})
	defer sess.Close()

	sess.Engine().OnPhase(func(p call.Phase) {
		util.LogInfo("call: %s", p)
	})
	sess.Engine().OnRemoteStream(func(s *call.RemoteStream) {
		if s == nil {
			util.LogInfo("remote stream cleared")
			return
		}
		util.LogInfo("remote stream: %d track(s)", len(s.Tracks()))
	})

	util.LogInfo("connecting to relay %s", cfg.Relay.URL)
	if err := sess.Open(ctx); err != nil {
		util.LogError("failed to reach relay: %v", err)
		os.Exit(1)
	}
	util.LogSuccess("relay connected")

	room := strings.TrimSpace(*roomID)
	if room == "" {
		room = askRoom()
	}
	if err := sess.Join(ctx, room); err != nil {
		util.LogError("join %q: %v", room, err)
		os.Exit(1)
	}

	runMenu(ctx, sess)
	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Interactive loop
// ---------------------------------------------------------------------------

const (
	actionStartMedia = "Start media  — acquire camera/microphone"
	actionStopMedia  = "Stop media   — release capture"
	actionStartCall  = "Start call   — offer to the peer in the room"
	actionEndCall    = "End call     — hang up"
	actionQuit       = "Quit"
)

func runMenu(ctx context.Context, sess *session.Session) {
	for ctx.Err() == nil {
		action, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{actionStartMedia, actionStartCall, actionEndCall, actionStopMedia, actionQuit}).
			WithDefaultText("Select an action").
			Show()
		pterm.Println()

		switch action {
		case actionStartMedia:
			if _, err := sess.StartMedia(ctx); err != nil {
				util.LogError("start media: %v", err)
			} else {
				util.LogSuccess("local media active")
			}

		case actionStopMedia:
			sess.StopMedia()

		case actionStartCall:
			if err := sess.StartCall(); err != nil {
				util.LogError("start call: %v", err)
			}

		case actionEndCall:
			sess.Hangup()

		case actionQuit:
			return
		}
	}
}

// askRoom prompts until a non-empty room id is entered.
func askRoom() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room id to join").
			Show()

		room := strings.TrimSpace(raw)
		if room != "" {
			pterm.Println()
			return room
		}
		util.LogWarning("room id must not be empty")
		pterm.Println()
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// termNotifier renders session notifications with pterm.
type termNotifier struct{}

func (termNotifier) Info(msg string)  { util.LogInfo("%s", msg) }
func (termNotifier) Error(msg string) { util.LogError("%s", msg) }

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadEnv()
}
