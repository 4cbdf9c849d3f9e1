// Package intercept tees every frame crossing the live game connection onto
// named taps without altering what the game client or server see. The
// interceptor is the sole observer of the connection; everything downstream
// (state mirror, lifecycle, features) hangs off its taps.
package intercept

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tib-san/Toolasha-sub001/pkg/frame"
	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

// ErrConnUnavailable is returned when no live connection appeared within
// the bounded retry window. The interceptor then fails closed: taps simply
// never fire, and startup continues without interception.
var ErrConnUnavailable = errors.New("intercept: no live connection within retry window")

// Conn is the minimal surface of a live bidirectional connection. A gorilla
// *websocket.Conn satisfies it directly.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// ConnSource locates the current live connection, reporting false while
// none exists yet.
type ConnSource func() (Conn, bool)

// Tap receives every teed frame, synchronously and in arrival order.
type Tap func(f frame.Frame)

type tapEntry struct {
	id   string
	name string
	fn   Tap
}

// Interceptor owns the tap list and the frame tee.
type Interceptor struct {
	mu   sync.Mutex
	taps []*tapEntry

	// installed maps each wrapped inner conn to its wrapper so a repeat
	// install of the same conn cannot create a second tee.
	installed map[Conn]*tappedConn

	// epochFn stamps each teed frame with the current identity epoch.
	epochFn func() uint64
}

// New creates an interceptor. epochFn may be nil, in which case frames are
// stamped with epoch zero.
func New(epochFn func() uint64) *Interceptor {
	return &Interceptor{
		installed: make(map[Conn]*tappedConn),
		epochFn:   epochFn,
	}
}

// SetEpochSource replaces the epoch stamp source. Used by the composition
// root, which builds the interceptor before the lifecycle coordinator.
func (i *Interceptor) SetEpochSource(fn func() uint64) {
	i.mu.Lock()
	i.epochFn = fn
	i.mu.Unlock()
}

// Tap registers a named frame tap and returns its remover. Taps run in
// registration order on the goroutine that moved the frame.
func (i *Interceptor) Tap(name string, fn Tap) func() {
	entry := &tapEntry{id: uuid.NewString(), name: name, fn: fn}
	i.mu.Lock()
	i.taps = append(i.taps, entry)
	i.mu.Unlock()
	return func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		for idx, t := range i.taps {
			if t.id == entry.id {
				i.taps = append(i.taps[:idx], i.taps[idx+1:]...)
				return
			}
		}
	}
}

// Install wraps a connection so every message read from or written to it is
// teed to the taps before it travels on. Installing twice on the same
// connection — whether the raw conn again or the returned wrapper — is a
// no-op: the existing wrapper is returned and a diagnostic is logged.
func (i *Interceptor) Install(conn Conn) Conn {
	if tc, ok := conn.(*tappedConn); ok && tc.ic == i {
		logger.WarnC("intercept", "install called twice on the same connection, ignoring")
		return tc
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if tc, ok := i.installed[conn]; ok {
		logger.WarnC("intercept", "install called twice on the same connection, ignoring")
		return tc
	}
	tc := &tappedConn{ic: i, inner: conn}
	i.installed[conn] = tc
	return tc
}

// forget drops the installed record for a dead conn so the map does not grow
// across relay sessions.
func (i *Interceptor) forget(conn Conn) {
	i.mu.Lock()
	delete(i.installed, conn)
	i.mu.Unlock()
}

// Attach polls source for a live connection, up to attempts tries spaced by
// interval, then installs the tee on it. On exhaustion it logs and returns
// ErrConnUnavailable — it never panics into application startup.
func (i *Interceptor) Attach(ctx context.Context, source ConnSource, attempts int, interval time.Duration) (Conn, error) {
	for n := 0; n < attempts; n++ {
		if conn, ok := source(); ok {
			logger.InfoCF("intercept", "attached to live connection", map[string]interface{}{
				"attempt": n + 1,
			})
			// Sources like the relay hand out the already-tapped conn.
			if tc, ok := conn.(*tappedConn); ok && tc.ic == i {
				return tc, nil
			}
			return i.Install(conn), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	logger.ErrorCF("intercept", "connection never appeared, interception disabled", map[string]interface{}{
		"attempts": attempts,
	})
	return nil, ErrConnUnavailable
}

// emit decodes raw into a frame, stamps the current epoch, and fans it out.
// Messages without a type tag are skipped: the mirror only understands
// tagged JSON objects and everything else is host traffic that merely
// passes through.
func (i *Interceptor) emit(raw []byte, dir frame.Direction) {
	f, err := frame.Decode(raw, dir)
	if err != nil {
		logger.DebugCF("intercept", "untagged message skipped", map[string]interface{}{
			"direction": dir.String(),
			"bytes":     len(raw),
		})
		return
	}

	i.mu.Lock()
	if i.epochFn != nil {
		f.Epoch = i.epochFn()
	}
	snapshot := make([]*tapEntry, len(i.taps))
	copy(snapshot, i.taps)
	i.mu.Unlock()

	for _, t := range snapshot {
		runTap(t, f)
	}
}

// runTap isolates one tap: a panicking tap is logged with its name and
// never prevents later taps from running or the frame from reaching the
// host application.
func runTap(t *tapEntry, f frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("intercept", "tap panicked", map[string]interface{}{
				"tap":   t.name,
				"type":  string(f.Type),
				"panic": r,
			})
		}
	}()
	t.fn(f)
}

// tappedConn tees traffic on its way through. Reads tee as inbound before
// the caller sees the message; writes tee as outbound before the message
// goes out. No buffering, no reordering.
type tappedConn struct {
	ic    *Interceptor
	inner Conn
}

func (c *tappedConn) ReadMessage() (int, []byte, error) {
	mt, p, err := c.inner.ReadMessage()
	if err != nil {
		// Read errors are terminal for a websocket; release the record.
		c.ic.forget(c.inner)
		return mt, p, err
	}
	c.ic.emit(p, frame.Inbound)
	return mt, p, nil
}

func (c *tappedConn) WriteMessage(mt int, data []byte) error {
	c.ic.emit(data, frame.Outbound)
	return c.inner.WriteMessage(mt, data)
}
