package intercept

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay binds to loopback; the page connecting through it is the
	// whole point, so origin checks stay permissive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay is the concrete connection the interceptor taps in production. The
// game client is pointed at the local listen address; the relay dials the
// real game server and moves frames both ways verbatim, with the upstream
// leg wrapped by the interceptor so every frame is teed exactly once.
type Relay struct {
	ic       *Interceptor
	listen   string
	upstream string

	mu      sync.Mutex
	server  *http.Server
	current Conn // tapped upstream conn for the active session
}

// NewRelay creates a relay that listens on listen and forwards to the
// upstream websocket URL.
func NewRelay(ic *Interceptor, listen, upstream string) *Relay {
	return &Relay{ic: ic, listen: listen, upstream: upstream}
}

// Current implements ConnSource over the active session's upstream leg.
func (r *Relay) Current() (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != nil
}

// Start runs the relay's HTTP listener until ctx is cancelled. It returns
// once the listener is down.
func (r *Relay) Start(ctx context.Context) error {
	if r.upstream == "" {
		logger.WarnC("relay", "no upstream configured, relay disabled")
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleSession)

	srv := &http.Server{Addr: r.listen, Handler: mux}
	r.mu.Lock()
	r.server = srv
	r.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("relay", "listening", map[string]interface{}{
			"listen":   r.listen,
			"upstream": r.upstream,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleSession relays one client connection against a fresh upstream dial.
func (r *Relay) handleSession(w http.ResponseWriter, req *http.Request) {
	client, err := relayUpgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.ErrorCF("relay", "upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer client.Close()

	upstream, _, err := websocket.DefaultDialer.Dial(r.upstream, nil)
	if err != nil {
		logger.ErrorCF("relay", "upstream dial failed", map[string]interface{}{
			"upstream": r.upstream,
			"error":    err.Error(),
		})
		return
	}
	defer upstream.Close()

	// One tee for the whole session: reads off this conn are inbound
	// game traffic, writes through it are outbound client traffic.
	tapped := r.ic.Install(upstream)

	r.mu.Lock()
	r.current = tapped
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.current == tapped {
			r.current = nil
		}
		r.mu.Unlock()
	}()

	logger.InfoC("relay", "session established")

	done := make(chan struct{}, 2)

	// Server → client.
	go func() {
		defer func() { done <- struct{}{} }()
		for {
			mt, data, err := tapped.ReadMessage()
			if err != nil {
				return
			}
			if err := client.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}()

	// Client → server.
	go func() {
		defer func() { done <- struct{}{} }()
		for {
			mt, data, err := client.ReadMessage()
			if err != nil {
				return
			}
			if err := tapped.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}()

	<-done
	logger.InfoC("relay", "session closed")
}
