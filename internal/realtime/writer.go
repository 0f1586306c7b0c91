package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/harborview/realtime/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

// connWriter serializes all writes to one websocket. Heartbeats, stream
// ticks and broadcasts race to write the same socket, so every frame goes
// through the writer goroutine and its bounded channel.
type connWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	failed      atomic.Bool
}

func newConnWriter(connection *websocket.Conn, clock clockwork.Clock) *connWriter {
	cw := &connWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *connWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendChannel:
			if !ok {
				return
			}
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.failed.Store(true)
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// trySend enqueues a frame without blocking. A false return means the
// connection is dead or too slow to keep up; the caller decides cleanup.
func (cw *connWriter) trySend(data []byte) bool {
	if cw.failed.Load() {
		return false
	}
	select {
	case <-cw.doneChannel:
		return false
	default:
	}
	select {
	case cw.sendChannel <- data:
		metrics.FramesSentTotal.Inc()
		return true
	default:
		metrics.FramesDroppedTotal.Inc()
		return false
	}
}

func (cw *connWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopWithClose sends a websocket close frame with the given application
// code before closing the underlying connection.
func (cw *connWriter) stopWithClose(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		// Wait for the run goroutine first so the close frame is not
		// interleaved with an in-flight write.
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(code, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *connWriter) updateWriteDeadline() {
	deadline := cw.clock.Now().Add(writeDeadline)
	_ = cw.connection.SetWriteDeadline(deadline)
}
