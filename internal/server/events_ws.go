package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// handleEventsWS serves GET /api/events/ws: a live feed of scheduler job
// transitions. The connection closes when the client goes away or the
// bus shuts down.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub, cancel := s.deps.Bus.Subscribe()
	defer cancel()

	// reads only serve to detect the peer closing
	readCtx := conn.CloseRead(r.Context())

	for {
		select {
		case <-readCtx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			writeCtx, done := context.WithTimeout(readCtx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			done()
			if err != nil {
				return
			}
		}
	}
}
