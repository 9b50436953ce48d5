package wsserver

import (
	"sync/atomic"

	"github.com/park285/basedchess/pkg/chessdto"
)

// conn is one websocket subscriber. Deliver never blocks; frames are
// dropped when the buffer is full.
type conn struct {
	id      string
	send    chan chessdto.Envelope
	dropped atomic.Int64
}

func newConn(id string, buffer int) *conn {
	return &conn{id: id, send: make(chan chessdto.Envelope, buffer)}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Deliver(env chessdto.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}
