package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mossy-p/video-relay/internal/peer"
	"github.com/mossy-p/video-relay/internal/signalclient"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// options is the resolved CLI configuration.
type options struct {
	Server   string
	Room     string
	Token    string
	STUN     []string
	LogLevel logging.LogLevel
	Loopback bool
	Media    bool
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "roompeer",
		Short: "Join a video relay room as a headless participant.",
		Long: `roompeer connects to a relay, joins a room and negotiates a WebRTC
link with every other member. Lines read from stdin are sent as chat.

Without --media the participant only receives. With --media it sends a
synthetic silent audio track and reports a constant level, so it shows
up in speaker detection; /mute silences it. No camera is captured.

Every flag can also be set through the environment, e.g. ROOMPEER_ROOM.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, os.Stdin)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml)")
	flags.String("server", "ws://localhost:8080/ws/signal", "relay WebSocket URL")
	flags.String("room", "", "room to join")
	flags.String("token", "", "bearer token for relays that require one")
	flags.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	flags.String("log-level", "warn", "pion log level: disabled, error, warn, info, debug, trace")
	flags.Bool("loopback", false, "gather loopback candidates for same-host calls")
	flags.Bool("media", false, "send a synthetic silent audio track")
	_ = v.BindPFlags(flags)

	return cmd
}

// initConfig reads the optional config file and environment variables.
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("ROOMPEER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	log.Printf("Using config file: %s", v.ConfigFileUsed())
	return nil
}

func loadOptions(v *viper.Viper) (options, error) {
	opts := options{
		Server:   v.GetString("server"),
		Room:     v.GetString("room"),
		Token:    v.GetString("token"),
		STUN:     v.GetStringSlice("stun"),
		Loopback: v.GetBool("loopback"),
		Media:    v.GetBool("media"),
	}
	if opts.Server == "" {
		return opts, errors.New("server is required")
	}
	if opts.Room == "" {
		return opts, errors.New("room is required")
	}

	name := strings.ToLower(v.GetString("log-level"))
	level, ok := logLevels[name]
	if !ok {
		return opts, fmt.Errorf("unknown log level %q", name)
	}
	opts.LogLevel = level
	return opts, nil
}

func (o options) peerConfig() peer.Config {
	cfg := peer.DefaultConfig()
	cfg.ICEServers = nil
	if len(o.STUN) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: o.STUN}}
	}
	cfg.LogLevel = o.LogLevel
	cfg.IncludeLoopback = o.Loopback
	return cfg
}

func run(parent context.Context, opts options, chat io.Reader) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	client, err := signalclient.Dial(ctx, opts.Server, header)
	if err != nil {
		return err
	}
	defer client.Close()

	src := peer.NewMediaSource()
	if opts.Media {
		if err := addSyntheticAudio(src); err != nil {
			return fmt.Errorf("create audio track: %w", err)
		}
		go pumpSynthetic(ctx, src, frameDuration)
	}

	mgr, err := peer.New(opts.peerConfig(), client, peer.WithHooks(logHooks()), peer.WithMediaSource(src))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer mgr.Leave()

	if err := mgr.Join(opts.Room); err != nil {
		return err
	}

	go func() {
		readChat(chat, mgr)
		stop()
	}()

	err = client.Listen(ctx, mgr.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readChat sends every non-empty line as a chat message until EOF or
// /leave. /mute and /camera toggle the local audio and video.
func readChat(r io.Reader, mgr *peer.Manager) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "/leave":
			return
		case "/mute":
			toggle(mgr.Media(), webrtc.RTPCodecTypeAudio)
			continue
		case "/camera":
			toggle(mgr.Media(), webrtc.RTPCodecTypeVideo)
			continue
		}
		if err := mgr.SendChat(text); err != nil {
			log.Printf("Failed to send chat: %v", err)
		}
	}
}

func toggle(src *peer.MediaSource, kind webrtc.RTPCodecType) {
	enabled := !src.Enabled(kind)
	src.SetEnabled(kind, enabled)
	log.Printf("Local %s enabled: %t", kind, enabled)
}

func logHooks() peer.Hooks {
	return peer.Hooks{
		OnStream: func(peerID string, stream *peer.RemoteStream) {
			log.Printf("Receiving media from %s", peerID)
		},
		OnStreamRemoved: func(peerID string) {
			log.Printf("Media from %s ended", peerID)
		},
		OnLinkState: func(peerID string, state peer.LinkState) {
			log.Printf("Link %s: %s", peerID, state)
		},
		OnChat: func(senderID, text string) {
			fmt.Printf("[%s] %s\n", senderID, text)
		},
		OnActiveSpeaker: func(peerID string) {
			if peerID == "" {
				peerID = "nobody"
			}
			log.Printf("Active speaker: %s", peerID)
		},
		OnRoomError: func(reason string) {
			log.Printf("Relay error: %s", reason)
		},
	}
}
