// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// wirecall-loopback runs two call engines against an in-memory
// signaling room and drives one call between them through real WebRTC
// peer connections. No homeserver required; useful for smoke-testing
// the signaling and media stack on one machine.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/wirecall/wirecall/call"
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

// watcher reports one engine's call activity on channels so run can
// sequence the demo.
type watcher struct {
	name      string
	logger    *slog.Logger
	incoming  chan *call.Call
	connected chan struct{}
	ended     chan call.Reason
}

func newWatcher(name string, logger *slog.Logger) *watcher {
	return &watcher{
		name:      name,
		logger:    logger,
		incoming:  make(chan *call.Call, 1),
		connected: make(chan struct{}, 1),
		ended:     make(chan call.Reason, 1),
	}
}

func (w *watcher) StateChanged(c *call.Call, from, to call.State) {
	w.logger.Info("state changed", "side", w.name, "call_id", c.ID(), "from", from, "to", to)
	if to == call.StateConnected {
		select {
		case w.connected <- struct{}{}:
		default:
		}
	}
}

func (w *watcher) CallEnded(c *call.Call, reason call.Reason) {
	w.logger.Info("call ended", "side", w.name, "call_id", c.ID(), "reason", reason)
	select {
	case w.ended <- reason:
	default:
	}
}

func (w *watcher) CallError(c *call.Call, code call.ErrorCode, err error) {
	w.logger.Error("call error", "side", w.name, "call_id", c.ID(), "code", code, "error", err)
}

func (w *watcher) IncomingCall(c *call.Call) {
	w.incoming <- c
}

func run() error {
	var video bool
	var verbose bool
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("wirecall-loopback", pflag.ContinueOnError)
	flagSet.BoolVar(&video, "video", false, "place a video call instead of audio-only")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "abort if the call is not connected within this duration")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("wirecall-loopback %s\n", version.Info())
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

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	roomID, err := ref.ParseRoomID("!loopback:localhost")
	if err != nil {
		return err
	}
	room := signaling.NewMemoryRoom(roomID)

	alice, aliceWatch, err := newSide(room, "@alice:localhost", "CALLER", logger)
	if err != nil {
		return err
	}
	defer alice.Close()
	bob, bobWatch, err := newSide(room, "@bob:localhost", "CALLEE", logger)
	if err != nil {
		return err
	}
	defer bob.Close()

	started := time.Now()
	placed, err := alice.PlaceCall(roomID, video)
	if err != nil {
		return fmt.Errorf("placing call: %w", err)
	}
	logger.Info("call placed", "call_id", placed.ID(), "video", video)

	var incoming *call.Call
	select {
	case incoming = <-bobWatch.incoming:
	case <-time.After(timeout):
		return fmt.Errorf("callee never saw the invite")
	}
	if err := incoming.LaunchIncomingCall(); err != nil {
		return fmt.Errorf("launching incoming call: %w", err)
	}
	if err := incoming.Answer(); err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	for _, side := range []*watcher{aliceWatch, bobWatch} {
		select {
		case <-side.connected:
		case <-time.After(timeout):
			return fmt.Errorf("%s side never connected", side.name)
		}
	}
	logger.Info("both sides connected", "elapsed", time.Since(started))

	placed.Hangup("")
	select {
	case reason := <-bobWatch.ended:
		logger.Info("callee observed hangup", "reason", reason)
	case <-time.After(timeout):
		return fmt.Errorf("callee never saw the hangup")
	}

	return nil
}

// newSide joins the room as one user and builds an engine for it.
func newSide(room *signaling.MemoryRoom, user, device string, logger *slog.Logger) (*call.Engine, *watcher, error) {
	userID, err := ref.ParseUserID(user)
	if err != nil {
		return nil, nil, err
	}
	deviceID, err := ref.ParseDeviceID(device)
	if err != nil {
		return nil, nil, err
	}

	member := room.Join(userID, deviceID)
	watch := newWatcher(user, logger)
	engine, err := call.NewEngine(call.EngineConfig{
		LocalUser:   userID,
		LocalDevice: deviceID,
		Delivery:    member,
		Transport:   media.NewPionFactory(media.PionConfig{Logger: logger}),
		Observer:    watch,
		Logger:      logger.With("side", user),
	})
	if err != nil {
		return nil, nil, err
	}
	member.Handle(engine.HandleEvent)
	return engine, watch, nil
}
