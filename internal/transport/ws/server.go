// Package ws serves the search control websocket: clients start and stop
// runs, query stored results and receive match/progress/stop broadcasts.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"seedcraft.ai/internal/persistence/indexdb"
	"seedcraft.ai/internal/protocol"
	"seedcraft.ai/internal/search"
)

type Server struct {
	ctrl *Controller
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(ctrl *Controller, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		ctrl: ctrl,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.Printf("ws upgrade: %v", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		broadcast, unsubscribe := s.ctrl.Subscribe(256)
		defer unsubscribe()
		replies := make(chan []byte, 16)

		// Writer goroutine: the only writer on conn.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-replies:
				case b = <-broadcast:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		reply := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				return
			}
			select {
			case replies <- b:
			case <-ctx.Done():
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reply(s.handle(ctx, msg))
		}
	}
}

// handle decodes one client message and returns the reply to send.
func (s *Server) handle(ctx context.Context, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoBadRequest, Message: err.Error()}
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.NewReject(base.Type, base.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}

	switch base.Type {
	case protocol.TypeStart:
		var m protocol.StartMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewReject(base.Type, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		runID, err := s.ctrl.StartConfig(ctx, m.Config, m.Resume, m.SaveDefault)
		if err != nil {
			return protocol.NewReject(base.Type, base.ReqID, codeFor(err), err.Error())
		}
		ack := protocol.NewAck(base.Type, base.ReqID)
		ack.RunID = runID
		return ack

	case protocol.TypeStop:
		if s.ctrl.Engine().State() == search.Idle {
			return protocol.NewReject(base.Type, base.ReqID, protocol.ErrNotRunning, "no search running")
		}
		s.ctrl.Stop()
		return protocol.NewAck(base.Type, base.ReqID)

	case protocol.TypeStatus:
		return s.ctrl.Status(base.ReqID)

	case protocol.TypeResults:
		var m protocol.ResultsReqMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewReject(base.Type, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		rs, err := s.ctrl.Results(ctx, m.RunID)
		if err != nil {
			return protocol.NewReject(base.Type, base.ReqID, codeFor(err), err.Error())
		}
		if rs == nil {
			rs = []search.Result{}
		}
		return protocol.ResultsMsg{Type: protocol.TypeResults, ProtocolVersion: protocol.Version, ReqID: base.ReqID, Results: rs}

	case protocol.TypeAnnotate:
		var m protocol.AnnotateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewReject(base.Type, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		if err := s.ctrl.Annotate(ctx, m.RunID, m.Seed, m.Text); err != nil {
			return protocol.NewReject(base.Type, base.ReqID, codeFor(err), err.Error())
		}
		return protocol.NewAck(base.Type, base.ReqID)

	case protocol.TypeClearResults:
		if err := s.ctrl.ClearResults(ctx); err != nil {
			return protocol.NewReject(base.Type, base.ReqID, codeFor(err), err.Error())
		}
		return protocol.NewAck(base.Type, base.ReqID)
	}
	return protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoUnknownType, Message: "unknown type " + base.Type}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, search.ErrInvalidJob):
		return protocol.ErrInvalidJob
	case errors.Is(err, search.ErrBusy):
		return protocol.ErrBusy
	case errors.Is(err, indexdb.ErrNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, ErrNoIndex):
		return protocol.ErrUnavailable
	}
	return protocol.ErrInternal
}
