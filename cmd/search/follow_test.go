package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"seedcraft.ai/internal/protocol"
	"seedcraft.ai/internal/search"
)

var quiet = log.New(io.Discard, "", 0)

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFollowPrintsMatchesUntilStopped(t *testing.T) {
	msgs := make(chan []byte, 4)
	msgs <- encode(t, protocol.MatchMsg{Type: protocol.TypeMatch, ProtocolVersion: protocol.Version, Results: []search.Result{{Seed: 7}, {Seed: -3}}})
	msgs <- encode(t, protocol.StoppedMsg{Type: protocol.TypeStopped, ProtocolVersion: protocol.Version, Summary: search.Summary{RunID: "r1", Reason: search.ReasonExhausted}})

	var out bytes.Buffer
	sum := follow(context.Background(), msgs, make(chan search.Summary), func() {}, &out, quiet)
	if sum.RunID != "r1" || sum.Reason != search.ReasonExhausted {
		t.Fatalf("summary: %+v", sum)
	}
	if got := strings.Fields(out.String()); len(got) != 2 || got[0] != "7" || got[1] != "-3" {
		t.Fatalf("printed seeds: %q", out.String())
	}
}

func TestFollowEndsWhenStopEventIsDropped(t *testing.T) {
	old := stopGrace
	stopGrace = 10 * time.Millisecond
	defer func() { stopGrace = old }()

	done := make(chan search.Summary, 1)
	done <- search.Summary{RunID: "r2", Reason: search.ReasonResultCap}

	res := make(chan search.Summary, 1)
	go func() {
		res <- follow(context.Background(), make(chan []byte), done, func() {}, io.Discard, quiet)
	}()
	select {
	case sum := <-res:
		if sum.RunID != "r2" || sum.Reason != search.ReasonResultCap {
			t.Fatalf("summary: %+v", sum)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("follow did not return after the engine finished")
	}
}

func TestFollowStopsOnInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped := make(chan struct{})
	done := make(chan search.Summary, 1)
	msgs := make(chan []byte, 1)

	stop := func() {
		close(stopped)
		msgs <- []byte(`{"type":"STOPPED","protocol_version":"` + protocol.Version + `","summary":{"run_id":"r3","reason":"user"}}`)
	}
	sum := follow(ctx, msgs, done, stop, io.Discard, quiet)
	select {
	case <-stopped:
	default:
		t.Fatalf("stop was not called")
	}
	if sum.Reason != search.ReasonUser {
		t.Fatalf("summary: %+v", sum)
	}
}
