// Synthetic Perun producer.
//
// perunfeed connects to a relay as a producer and streams a generated
// test pattern (and optionally a sine tone) through the frame processor,
// so viewers and the relay can be exercised without an emulator.
package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AsmirZukic/Perun/internal/client"
	"github.com/AsmirZukic/Perun/internal/protocol"
	"github.com/AsmirZukic/Perun/internal/stream"
	"github.com/AsmirZukic/Perun/internal/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		network string
		address string
		width   int
		height  int
		fps     int
		audio   bool
		debug   bool
	)

	cmd := &cobra.Command{
		Use:          "perunfeed",
		Short:        "Stream a synthetic test pattern to a Perun relay",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			if debug {
				util.EnableDebug()
			}
			return feed(network, address, uint16(width), uint16(height), fps, audio)
		},
	}

	cmd.Flags().StringVar(&network, "network", "tcp", "transport: tcp, unix, or ws")
	cmd.Flags().StringVar(&address, "address", "127.0.0.1:9500", "relay address (socket path for unix, URL for ws)")
	cmd.Flags().IntVar(&width, "width", 256, "frame width in pixels")
	cmd.Flags().IntVar(&height, "height", 224, "frame height in pixels")
	cmd.Flags().IntVar(&fps, "fps", 30, "frames per second")
	cmd.Flags().BoolVar(&audio, "audio", false, "also stream a sine tone")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func feed(network, address string, width, height uint16, fps int, audio bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(network, address)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Handshake(protocol.CapAll, 5*time.Second); err != nil {
		return err
	}
	util.LogInfo("connected to %s, caps %#04x", address, c.Capabilities())
	if audio && c.Capabilities()&protocol.CapAudio == 0 {
		util.LogWarning("relay did not grant the AUDIO capability, tone disabled")
		audio = false
	}

	processor := stream.NewProcessor()
	frame := make([]byte, int(width)*int(height)*4)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-ticker.C:
			renderPattern(frame, width, height, tick)
			packet, flags := processor.Process(width, height, frame)
			if err := c.SendVideoFrame(flags, packet); err != nil {
				return err
			}
			if audio {
				if err := c.SendAudioChunk(sineChunk(tick, fps)); err != nil {
					return err
				}
			}
			// Drain rebroadcasts so the receive buffer cannot grow.
			if err := c.Update(); err != nil {
				return err
			}
			tick++

		case <-ctx.Done():
			util.LogInfo("stopping after %d frames", tick)
			return nil
		}
	}
}

// renderPattern fills frame (RGBA) with a diagonal gradient that scrolls
// one pixel per tick. The red and blue bytes of every pixel change on each
// tick, so the processor finds the changes dense and ships keyframes.
func renderPattern(frame []byte, width, height uint16, tick int) {
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			i := (y*int(width) + x) * 4
			v := byte(x + y + tick)
			frame[i] = v
			frame[i+1] = v / 2
			frame[i+2] = 255 - v
			frame[i+3] = 0xFF
		}
	}
}

// sineChunk produces one tick's worth of a 440 Hz mono tone at 22050 Hz.
func sineChunk(tick, fps int) protocol.AudioChunk {
	const rate = 22050
	n := rate / fps
	samples := make([]int16, n)
	for i := range samples {
		t := float64(tick*n+i) / rate
		samples[i] = int16(12000 * math.Sin(2*math.Pi*440*t))
	}
	return protocol.AudioChunk{SampleRate: rate, Channels: 1, Samples: samples}
}
