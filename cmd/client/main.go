package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"seedcraft.ai/internal/persistence/searchconfig"
	"seedcraft.ai/internal/protocol"
)

// client drives a running server: it starts a search from a config file,
// prints matched seeds and stops the run on interrupt.
func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		configPath = flag.String("config", "", "search config to START (empty: attach and watch)")
		resume     = flag.Bool("resume", false, "resume the job from its checkpoint")
		save       = flag.Bool("save-default", false, "store the config as the server default")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[client] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if *configPath != "" {
		sc, err := searchconfig.Load(*configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
		raw, err := json.Marshal(sc)
		if err != nil {
			logger.Fatalf("encode config: %v", err)
		}
		start := protocol.StartMsg{
			Type:            protocol.TypeStart,
			ProtocolVersion: protocol.Version,
			ReqID:           "start-1",
			Config:          raw,
			Resume:          *resume,
			SaveDefault:     *save,
		}
		if err := conn.WriteJSON(start); err != nil {
			logger.Fatalf("send START: %v", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		logger.Printf("interrupt: sending STOP")
		_ = conn.WriteJSON(protocol.RequestMsg{Type: protocol.TypeStop, ProtocolVersion: protocol.Version, ReqID: "stop-1"})
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if !a.Accepted {
				logger.Printf("%s rejected: %s %s", a.AckFor, a.Code, a.Message)
				if a.AckFor == protocol.TypeStart {
					os.Exit(1)
				}
				continue
			}
			if a.RunID != "" {
				logger.Printf("run %s started", a.RunID)
			}

		case protocol.TypeMatch:
			var m protocol.MatchMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			for _, r := range m.Results {
				fmt.Println(r.Seed)
			}

		case protocol.TypeProgress:
			var p protocol.ProgressMsg
			if err := json.Unmarshal(msg, &p); err != nil {
				continue
			}
			logger.Printf("run %s processed=%d matches=%d", p.RunID, p.Progress.Processed, p.Progress.Matches)

		case protocol.TypeStopped:
			var s protocol.StoppedMsg
			if err := json.Unmarshal(msg, &s); err != nil {
				continue
			}
			logger.Printf("run %s stopped (%s) resume_start=%d", s.Summary.RunID, s.Summary.Reason, s.Summary.ResumeStart)
			if *configPath != "" {
				return
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("error %s: %s", e.Code, e.Message)
			}
		}
	}
}
