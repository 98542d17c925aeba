package http

import (
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// WSHandler upgrades HTTP connections and runs the binary chat protocol over
// WebSocket binary messages.
type WSHandler struct {
	conns     ConnHandler
	readLimit int64
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(conns ConnHandler, readLimit int64, logger *zerolog.Logger) stdhttp.Handler {
	if readLimit <= 0 {
		readLimit = proto.DefaultMaxFrameBytes
	}
	return &WSHandler{conns: conns, readLimit: readLimit, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.SetReadLimit(h.readLimit)

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("ws session starting")

	// NetConn closes the websocket when the session closes the stream.
	h.conns.HandleConn(ctx, websocket.NetConn(ctx, conn, websocket.MessageBinary))
}
