// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// wirecall-dial places a voice or video call into a Matrix room and
// keeps it up until the peer hangs up or the process is interrupted.
//
// Configuration comes from the file named by WIRECALL_CONFIG or the
// --config flag; the target room is given on the command line. When
// the homeserver offers TURN credentials they are fetched once at
// startup and handed to the media stack.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/wirecall/wirecall/call"
	"github.com/wirecall/wirecall/lib/config"
	"github.com/wirecall/wirecall/lib/ref"
	"github.com/wirecall/wirecall/lib/version"
	"github.com/wirecall/wirecall/media"
	"github.com/wirecall/wirecall/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var roomFlag string
	var video bool
	var verbose bool

	flagSet := pflag.NewFlagSet("wirecall-dial", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to wirecall.yaml (default: $WIRECALL_CONFIG)")
	flagSet.StringVar(&roomFlag, "room", "", "room ID to call into, e.g. !abc:example.org")
	flagSet.BoolVar(&video, "video", false, "place a video call instead of audio-only")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("wirecall-dial %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.PrintDefaults()
		return nil
	}
	if roomFlag == "" {
		return fmt.Errorf("--room is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg, verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	roomID, err := ref.ParseRoomID(roomFlag)
	if err != nil {
		return fmt.Errorf("--room: %w", err)
	}
	userID, err := ref.ParseUserID(cfg.Homeserver.UserID)
	if err != nil {
		return err
	}
	var deviceID ref.DeviceID
	if cfg.Homeserver.DeviceID != "" {
		deviceID, err = ref.ParseDeviceID(cfg.Homeserver.DeviceID)
		if err != nil {
			return err
		}
	}
	accessToken, err := cfg.ResolveAccessToken()
	if err != nil {
		return err
	}
	inviteTimeout, err := cfg.InviteTimeout()
	if err != nil {
		return err
	}

	client, err := signaling.NewMatrixClient(signaling.MatrixClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		AccessToken:   accessToken,
		UserID:        userID,
		DeviceID:      deviceID,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	iceConfig, err := buildICE(ctx, cfg, client, logger)
	if err != nil {
		return err
	}

	watch := &dialWatcher{
		logger: logger,
		ended:  make(chan call.Reason, 1),
	}
	engine, err := call.NewEngine(call.EngineConfig{
		LocalUser:     userID,
		LocalDevice:   deviceID,
		Delivery:      client,
		Transport:     media.NewPionFactory(media.PionConfig{ICE: iceConfig, Logger: logger}),
		Observer:      watch,
		Logger:        logger,
		InviteTimeout: inviteTimeout,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	receiver := signaling.NewMatrixReceiver(client, roomID, logger)
	receiveDone := make(chan error, 1)
	go func() {
		receiveDone <- receiver.Run(ctx, engine.HandleEvent)
	}()

	placed, err := engine.PlaceCall(roomID, video)
	if err != nil {
		return fmt.Errorf("placing call: %w", err)
	}
	logger.Info("calling", "room", roomID, "call_id", placed.ID(), "video", video)

	select {
	case reason := <-watch.ended:
		logger.Info("call over", "reason", reason)
		return nil
	case err := <-receiveDone:
		if err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("interrupted, hanging up")
		placed.Hangup("")
		select {
		case <-watch.ended:
		case <-time.After(5 * time.Second):
		}
		return nil
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config, verbose bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "", "info":
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
}

// buildICE prefers statically configured servers; otherwise it asks the
// homeserver for TURN credentials. A homeserver with no TURN setup
// leaves the config empty and the transport falls back to host
// candidates.
func buildICE(ctx context.Context, cfg *config.Config, client *signaling.MatrixClient, logger *slog.Logger) (media.ICEConfig, error) {
	if len(cfg.ICE.Servers) > 0 {
		iceConfig := media.ICEConfig{}
		for _, server := range cfg.ICE.Servers {
			iceConfig.Servers = append(iceConfig.Servers, media.StaticICEServer(server.URLs, server.Username, server.Password))
		}
		return iceConfig, nil
	}

	credentials, err := client.TURNServer(ctx)
	if err != nil {
		return media.ICEConfig{}, fmt.Errorf("fetching TURN credentials: %w", err)
	}
	if credentials == nil {
		logger.Info("homeserver offers no TURN servers, using host candidates only")
	}
	return media.ICEConfigFromTURN(credentials), nil
}

// dialWatcher logs call activity and reports the end of the call.
type dialWatcher struct {
	logger *slog.Logger
	ended  chan call.Reason
}

func (w *dialWatcher) StateChanged(c *call.Call, from, to call.State) {
	w.logger.Info("state changed", "call_id", c.ID(), "from", from, "to", to)
}

func (w *dialWatcher) CallEnded(c *call.Call, reason call.Reason) {
	select {
	case w.ended <- reason:
	default:
	}
}

func (w *dialWatcher) CallError(c *call.Call, code call.ErrorCode, err error) {
	w.logger.Error("call error", "call_id", c.ID(), "code", code, "error", err)
}

func (w *dialWatcher) IncomingCall(c *call.Call) {
	// wirecall-dial only places calls; an incoming invite for another
	// call is left ringing for other clients on the account.
	w.logger.Info("ignoring incoming call", "call_id", c.ID())
}
