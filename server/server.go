package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"smartaliens/events"
	"smartaliens/population"
	"smartaliens/server/fastview"
	"smartaliens/server/root_view"

	"github.com/gorilla/mux"
)

const (
	// Maximum size of a command body.
	maxCommandSize = 4096
	// Time allowed for in-flight requests when shutting down.
	shutdownGracePeriod = 5 * time.Second
	readHeaderTimeout   = 5 * time.Second
)

// Commander queues commands for the training loop.
type Commander interface {
	Send(ctx context.Context, cmd events.Command) error
}

// Source provides the population's current state.
type Source interface {
	Snapshot() population.Snapshot
	Stats() population.Stats
}

var (
	ErrUnknownCommand error = errors.New("unknown command")
	ErrBadCommand     error = errors.New("malformed command")
)

// Server serves the arena page, its websocket, and the command endpoints.
// Any number of pages may be open: every websocket client receives the
// same element updates.
type Server struct {
	addr     string
	logger   *slog.Logger
	commands Commander
	source   Source
	rootView *root_view.RootView
	relay    *fastview.Relay[[]fastview.EleUpdate]
	router   *mux.Router
}

// NewServer relays the root view's updates to websocket clients until ctx is done.
func NewServer(
	ctx context.Context,
	addr string,
	rootView *root_view.RootView,
	commands Commander,
	source Source,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := &Server{
		addr:     addr,
		logger:   logger,
		commands: commands,
		source:   source,
		rootView: rootView,
		relay:    fastview.NewRelay(ctx.Done(), rootView.Updates()),
	}

	router := mux.NewRouter()
	router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	router.HandleFunc("/ws", server.serveWebsocket).Methods(http.MethodGet)
	router.HandleFunc("/api/stats", server.serveStats).Methods(http.MethodGet)
	router.HandleFunc("/api/{command}", server.serveCommand).Methods(http.MethodPost)
	server.router = router
	return server
}

// Router returns the server's handler.
func (server *Server) Router() http.Handler {
	return server.router
}

// Serve listens until ctx is done, then shuts down gracefully. Request
// contexts derive from ctx, so open websockets end with it.
func (server *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              server.addr,
		Handler:           server.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		server.logger.Info("serving", "addr", server.addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// serveWebsocket publishes view updates to the client and forwards its commands.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient(
		server.relay.Subscribe(r.Context().Done()),
		server.onMessage,
		w,
		r)
	if err != nil {
		// The upgrader has already replied to the client.
		server.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	server.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	if err := cli.Sync(); err != nil {
		server.logger.Warn("websocket client failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	server.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
}

// wsMessage is a command sent over the websocket, e.g. {"command":"stop"}.
type wsMessage struct {
	Command string          `json:"command"`
	Start   json.RawMessage `json:"start,omitempty"`
}

func (server *Server) onMessage(ctx context.Context, msg []byte) {
	var wm wsMessage
	if err := json.Unmarshal(msg, &wm); err != nil {
		server.logger.Warn("dropped websocket message", "err", err)
		return
	}
	cmd, err := decodeCommand(wm.Command, wm.Start)
	if err != nil {
		server.logger.Warn("dropped websocket command", "command", wm.Command, "err", err)
		return
	}
	if err := server.commands.Send(ctx, cmd); err != nil {
		server.logger.Warn("websocket command not queued", "command", wm.Command, "err", err)
	}
}

// serveCommand queues the command named by the path. It replies 202 once the
// command is queued; the command itself runs asynchronously.
func (server *Server) serveCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["command"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd, err := decodeCommand(name, body)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := server.commands.Send(r.Context(), cmd); err != nil {
		server.logger.Warn("command not queued", "command", name, "err", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	server.logger.Info("command received", "command", name)
	w.WriteHeader(http.StatusAccepted)
}

// decodeCommand maps a command name, and for start its JSON settings, to a bus command.
func decodeCommand(name string, body []byte) (events.Command, error) {
	switch name {
	case "start":
		var start events.Start
		if err := json.Unmarshal(body, &start); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
		}
		if start.PopulationSize <= 0 || start.DecisionsPerSecond <= 0 || start.AgentSpeed <= 0 {
			return nil, fmt.Errorf("%w: population size, decision rate and speed must be positive", ErrBadCommand)
		}
		return start, nil
	case "stop":
		return events.Stop{}, nil
	case "reset":
		return events.ResetGeneration{}, nil
	case "camera":
		return events.RequestCameraReset{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func (server *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(server.source.Stats()); err != nil {
		server.logger.Warn("stats not written", "err", err)
	}
}

// Serve the index.html main page.
func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	initial := server.rootView.Initial(server.source.Snapshot())
	if err := renderTemplate(w, server.rootView, initial); err != nil {
		server.logger.Error("index not rendered", "err", err)
		_, _ = w.Write([]byte(err.Error()))
	}
}

func renderTemplate(
	w io.Writer,
	vc fastview.ViewComponent,
	data interface{},
) (err error) {
	t := template.New("index.html")
	var tname string
	if tname, err = vc.Parse(t); err != nil {
		return
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return
	}

	err = t.Execute(w, data)
	return
}
