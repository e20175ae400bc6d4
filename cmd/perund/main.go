// Perun relay daemon.
//
// perund accepts emulator producers and viewer consumers over local
// sockets, TCP, and WebSocket, and rebroadcasts each peer's packets to
// the others: video lossily, audio and input reliably, with capability
// gating negotiated per session at handshake.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AsmirZukic/Perun/internal/config"
	"github.com/AsmirZukic/Perun/internal/protocol"
	"github.com/AsmirZukic/Perun/internal/relay"
	"github.com/AsmirZukic/Perun/internal/transport"
	"github.com/AsmirZukic/Perun/internal/util"
)

const tickInterval = 50 * time.Millisecond

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "perund",
		Short:         "Relay daemon for the Perun emulator-streaming protocol",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
			}
			// Flags given on the command line win over the file.
			overlayString(cmd, "tcp", &cfg.TCPAddr)
			overlayString(cmd, "ws", &cfg.WSAddr)
			overlayString(cmd, "unix", &cfg.UnixPath)
			overlayString(cmd, "metrics", &cfg.MetricsAddr)
			if cmd.Flags().Changed("debug") {
				cfg.Debug, _ = cmd.Flags().GetBool("debug")
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to perund.toml")
	cmd.Flags().String("tcp", config.Default().TCPAddr, `TCP listen address ("host:port" or ":port", empty disables)`)
	cmd.Flags().String("ws", "", "WebSocket listen address (empty disables)")
	cmd.Flags().String("unix", "", "local socket path (empty disables)")
	cmd.Flags().String("metrics", "", "Prometheus metrics address (empty disables)")
	cmd.Flags().Bool("debug", false, "enable debug logging")
	return cmd
}

func overlayString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}

func run(cfg config.Config) error {
	if cfg.Debug {
		util.EnableDebug()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := &rebroadcaster{}
	r := relay.New(sink, cfg.Capabilities)
	sink.r = r

	if cfg.TCPAddr != "" {
		if err := r.AddListener(transport.NewTCPListener(), cfg.TCPAddr); err != nil {
			return err
		}
		util.LogInfo("listening on tcp %s", cfg.TCPAddr)
	}
	if cfg.WSAddr != "" {
		if err := r.AddListener(transport.NewWebSocketListener(), cfg.WSAddr); err != nil {
			return err
		}
		util.LogInfo("listening on ws %s", cfg.WSAddr)
	}
	if cfg.UnixPath != "" {
		if err := r.AddListener(transport.NewLocalListener(), cfg.UnixPath); err != nil {
			return err
		}
		util.LogInfo("listening on unix %s", cfg.UnixPath)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.LogError("metrics server: %v", err)
			}
		}()
		util.LogInfo("metrics on http://%s/metrics", cfg.MetricsAddr)
	}

	if err := r.Start(); err != nil {
		return err
	}
	util.StartStatsReporter(ctx)

	for ctx.Err() == nil {
		r.Poll(tickInterval)
		r.Update()
	}

	util.LogInfo("shutting down")
	r.Stop()
	return nil
}

// rebroadcaster is the perund sink: every video, audio, input and config
// packet a peer sends is fanned out to the other peers, excluding the
// origin. Inbound DebugInfo has no callback and is not rebroadcast.
type rebroadcaster struct {
	relay.NopCallbacks
	r *relay.Relay
}

func (s *rebroadcaster) OnClientConnected(id int, caps uint16) {
	util.LogInfo("client %d joined, caps %#04x", id, caps)
}

func (s *rebroadcaster) OnClientDisconnected(id int) {
	util.LogInfo("client %d left", id)
}

func (s *rebroadcaster) OnVideoFrameReceived(id int, f protocol.VideoFrame, flags uint8) {
	s.r.BroadcastVideoFrame(flags, f, id)
}

func (s *rebroadcaster) OnAudioChunkReceived(id int, c protocol.AudioChunk) {
	s.r.BroadcastAudioChunk(c, id)
}

func (s *rebroadcaster) OnInputReceived(id int, e protocol.InputEvent) {
	s.r.BroadcastInput(e, id)
}

func (s *rebroadcaster) OnConfigReceived(id int, data []byte) {
	s.r.BroadcastConfig(data, id)
}
