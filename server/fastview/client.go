package fastview

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// The rate at which ele-updates will be sent to the client, so as not to overburden.
	pubResolution  = time.Millisecond * 100
	pingResolution = time.Millisecond * 200
	// The number of pings to tolerate losing before concluding the peer is gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// MessageHandler receives each message the web client sends.
type MessageHandler func(ctx context.Context, msg []byte)

// A client publishes idempotent updates to a web client over a websocket, and
// hands whatever the web client sends back to a MessageHandler.
type client[T any] struct {
	updates   <-chan T
	onMessage MessageHandler
	sock      *websock
	rootCtx   context.Context
}

// NewClient upgrades the request to a websocket. Items in updates must be
// idempotent: only the latest item of each publication period is sent, and
// it alone must bring the web client current. onMessage may be nil.
func NewClient[T any](
	updates <-chan T,
	onMessage MessageHandler,
	w http.ResponseWriter,
	r *http.Request,
) (*client[T], error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)

	if onMessage == nil {
		onMessage = func(context.Context, []byte) {}
	}
	return &client[T]{
		updates:   updates,
		onMessage: onMessage,
		sock:      newWebsock(conn),
		rootCtx:   r.Context(),
	}, nil
}

// Sync publishes updates to the web client and serves its messages until it
// disconnects, the request's context ends, or an unexpected error occurs.
// Sync returns nil upon client disconnect and closes the websocket.
func (cli *client[T]) Sync() error {
	defer cli.sock.close()
	group, groupCtx := errgroup.WithContext(cli.rootCtx)

	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	go func() {
		// Unblocks a pending read once the group is done.
		<-groupCtx.Done()
		cli.sock.interruptRead()
	}()
	group.Go(func() error {
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		return cli.publish(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, errSyncDone) {
		return err
	}
	return nil
}

var ErrPongDeadlineExceeded error = errors.New("client disconnect, pong deadline exceeded")

// errSyncDone ends the client's other routines without reporting an error:
// the peer closed normally or there are no more updates.
var errSyncDone = errors.New("client sync done")

// pingPong is the client liveness check. Pongs are only noticed while
// readMessages is running.
func (cli *client[T]) pingPong(ctx context.Context) error {
	pong := make(chan struct{}, 1)
	cli.sock.onPong(func() {
		select {
		case pong <- struct{}{}:
		default:
		}
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			if err := cli.sock.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

// readMessages passes messages from the web client to the handler.
// Errors returned by websocket Read methods are permanent, hence any error
// must trigger full teardown; a normal close ends the client without error.
func (cli *client[T]) readMessages(ctx context.Context) error {
	for {
		msg, err := cli.sock.read(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case isClosure(err):
			return errSyncDone
		case err != nil:
			return err
		}
		cli.onMessage(ctx, msg)
	}
}

// publish sends the latest update once per publication period; updates
// superseded within a period are never sent.
func (cli *client[T]) publish(ctx context.Context) error {
	var (
		latest  T
		pending bool
	)
	period := channerics.NewTicker(ctx.Done(), pubResolution)
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-cli.updates:
			// Graceful input channel closure
			if !ok {
				return errSyncDone
			}
			latest, pending = update, true
		case <-period:
			if !pending {
				continue
			}
			if err := cli.sock.writeJSON(ctx, latest); err != nil {
				return err
			}
			pending = false
		}
	}
}
