package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay traffic counter.
var Stats = &stats{}

type stats struct {
	Sessions      atomic.Int64 // cumulative count of completed handshakes since process start
	Disconnects   atomic.Int64 // cumulative count of closed sessions since process start
	BytesIn       atomic.Int64 // cumulative bytes received from peers, headers and handshakes included
	BytesOut      atomic.Int64 // cumulative bytes of packets (header and payload) handed to transports
	FramesDropped atomic.Int64 // video frames dropped by the lossy send path
}

func (s *stats) AddSession()      { s.Sessions.Add(1) }
func (s *stats) AddDisconnect()   { s.Disconnects.Add(1) }
func (s *stats) AddIn(n int)      { s.BytesIn.Add(int64(n)) }
func (s *stats) AddOut(n int)     { s.BytesOut.Add(int64(n)) }
func (s *stats) AddDroppedFrame() { s.FramesDropped.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that checks relay statistics
// every 10 seconds and logs them when the interval saw more than 10 B/s
// in either direction or any dropped frame. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevIn, prevOut, prevDropped int64
		for {
			select {
			case <-ticker.C:
				in := Stats.BytesIn.Load()
				out := Stats.BytesOut.Load()
				dropped := Stats.FramesDropped.Load()

				inS := float64(in-prevIn) / 10.0
				outS := float64(out-prevOut) / 10.0
				dropC := dropped - prevDropped

				if inS > 10 || outS > 10 || dropC > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, dropC,
						Stats.Sessions.Load()-Stats.Disconnects.Load()))
				}

				prevIn = in
				prevOut = out
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, dropped, live int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Dropped: %3d | Sessions: %2d",
		formatBytes(inS),
		formatBytes(outS),
		dropped,
		live,
	)
}
