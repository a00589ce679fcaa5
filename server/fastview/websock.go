package fastview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	// Time allowed to write a message to the peer.
	writeWait = time.Second
	// Time to wait for a turn at reading or writing.
	sockWait         = time.Second
	closeGracePeriod = time.Second
)

// websock serializes reads and writes to a websocket, which supports at most
// one concurrent reader and one concurrent writer.
type websock struct {
	// Semaphores of one; channels let a waiter give up.
	readSem   chan struct{}
	writeSem  chan struct{}
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newWebsock(conn *websocket.Conn) *websock {
	return &websock{
		readSem:  make(chan struct{}, 1),
		writeSem: make(chan struct{}, 1),
		conn:     conn,
	}
}

// acquire takes a turn on sem. It reports ok=false without error when ctx ends first.
func acquire(ctx context.Context, sem chan struct{}) (ok bool, err error) {
	timer := time.NewTimer(sockWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, nil
	case sem <- struct{}{}:
		return true, nil
	case <-timer.C:
		return false, ErrSockCongestion
	}
}

// read returns the next data message. Control messages are handled while reading.
func (sock *websock) read(ctx context.Context) (msg []byte, err error) {
	ok, err := acquire(ctx, sock.readSem)
	if !ok {
		return nil, err
	}
	defer func() { <-sock.readSem }()
	_, msg, err = sock.conn.ReadMessage()
	return
}

// interruptRead fails any pending read immediately.
func (sock *websock) interruptRead() {
	_ = sock.conn.SetReadDeadline(time.Now())
}

// onPong calls fn for every pong the peer sends.
func (sock *websock) onPong(fn func()) {
	sock.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (sock *websock) ping(ctx context.Context) error {
	ok, err := acquire(ctx, sock.writeSem)
	if !ok {
		return err
	}
	defer func() { <-sock.writeSem }()
	if err := sock.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (sock *websock) writeJSON(ctx context.Context, v any) error {
	ok, err := acquire(ctx, sock.writeSem)
	if !ok {
		return err
	}
	defer func() { <-sock.writeSem }()
	if err := sock.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := sock.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// close sends a close frame, gives the peer a moment to answer, and closes
// the connection. It waits for the current reader and writer to finish.
func (sock *websock) close() {
	sock.closeOnce.Do(func() {
		sock.readSem <- struct{}{}
		sock.writeSem <- struct{}{}

		_ = sock.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = sock.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(closeGracePeriod)
		sock.conn.Close()
	})
}

// isClosure reports the peer closing normally or going away.
func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
