package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"seedcraft.ai/internal/protocol"
	"seedcraft.ai/internal/search"
)

// stopGrace is how long follow waits for the STOPPED broadcast once the
// engine itself has finished.
var stopGrace = 2 * time.Second

// follow prints matched seeds to out until the run stops. The subscription
// drops messages when full, so the engine's own completion on done also ends
// the loop if STOPPED never arrives.
func follow(ctx context.Context, msgs <-chan []byte, done <-chan search.Summary, stop func(), out io.Writer, logger *log.Logger) search.Summary {
	var (
		sum   search.Summary
		grace <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			logger.Printf("interrupted; stopping")
			stop()
			ctx = context.Background()
		case s := <-done:
			sum = s
			done = nil
			grace = time.After(stopGrace)
		case <-grace:
			logger.Printf("stop event missed")
			logSummary(logger, sum)
			return sum
		case b := <-msgs:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeMatch:
				var m protocol.MatchMsg
				if json.Unmarshal(b, &m) == nil {
					for _, r := range m.Results {
						fmt.Fprintln(out, r.Seed)
					}
				}
			case protocol.TypeProgress:
				var m protocol.ProgressMsg
				if json.Unmarshal(b, &m) == nil {
					logger.Printf("processed=%d matches=%d dropped=%d failures=%d", m.Progress.Processed, m.Progress.Matches, m.Progress.Dropped, m.Progress.Failures)
				}
			case protocol.TypeStopped:
				var m protocol.StoppedMsg
				if json.Unmarshal(b, &m) == nil {
					sum = m.Summary
				}
				logSummary(logger, sum)
				return sum
			}
		}
	}
}

func logSummary(logger *log.Logger, s search.Summary) {
	logger.Printf("run %s stopped (%s) processed=%d accepted=%d resume_start=%d", s.RunID, s.Reason, s.Progress.Processed, s.Progress.Accepted, s.ResumeStart)
}
