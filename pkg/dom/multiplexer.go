package dom

import (
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

// DefaultDebounceDelay is used for debounced registrations that do not set
// their own quiescence window.
const DefaultDebounceDelay = 200 * time.Millisecond

// Callback receives one element that newly matches a registration's
// selector. It is invoked at most once per appearance of that element:
// repeated presence across batches is not redelivered, removal followed by
// re-insertion is.
type Callback func(el *html.Node)

// Options tune a single watch registration.
type Options struct {
	// Debounce coalesces rapid-fire mutation batches: matched elements
	// are queued and delivered only after DebounceDelay of quiescence.
	Debounce bool
	// DebounceDelay overrides the multiplexer default when positive.
	DebounceDelay time.Duration
}

type registration struct {
	id        string
	name      string
	selectors []cascadia.Sel
	cb        Callback
	debounce  bool
	delay     time.Duration

	// seen marks elements already delivered (or queued) for this
	// registration, keyed by node identity.
	seen map[*html.Node]struct{}

	// Debounce state. pending preserves match order; timer is the only
	// cancellable resource a registration owns.
	pending []*html.Node
	timer   *time.Timer
	removed bool
}

// Multiplexer is the single shared document watcher. All consumers register
// selectors against it; each mutation batch is scanned once regardless of
// how many registrations exist.
type Multiplexer struct {
	mu           sync.Mutex
	defaultDelay time.Duration
	regs         []*registration
}

// NewMultiplexer creates a multiplexer. defaultDelay <= 0 falls back to
// DefaultDebounceDelay.
func NewMultiplexer(defaultDelay time.Duration) *Multiplexer {
	if defaultDelay <= 0 {
		defaultDelay = DefaultDebounceDelay
	}
	return &Multiplexer{defaultDelay: defaultDelay}
}

// Register adds a watch for elements matching any of selectors. The name
// identifies the registrant (one feature may hold several registrations
// under the same name) and scopes UnregisterAll. The returned function
// removes just this registration and is safe to call more than once.
func (m *Multiplexer) Register(name string, selectors []string, cb Callback, opts *Options) (func(), error) {
	compiled := make([]cascadia.Sel, 0, len(selectors))
	for _, s := range selectors {
		sel, err := Compile(s)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, sel)
	}

	reg := &registration{
		id:        uuid.NewString(),
		name:      name,
		selectors: compiled,
		cb:        cb,
		seen:      make(map[*html.Node]struct{}),
		delay:     m.defaultDelay,
	}
	if opts != nil {
		reg.debounce = opts.Debounce
		if opts.DebounceDelay > 0 {
			reg.delay = opts.DebounceDelay
		}
	}

	m.mu.Lock()
	m.regs = append(m.regs, reg)
	m.mu.Unlock()

	return func() { m.unregister(reg.id) }, nil
}

func (m *Multiplexer) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, reg := range m.regs {
		if reg.id == id {
			m.dropLocked(i, reg)
			return
		}
	}
}

// UnregisterAll removes every registration held under name. Safe to call on
// teardown even if none of the registrant's selectors ever matched, or the
// name was never registered at all.
func (m *Multiplexer) UnregisterAll(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for i := len(m.regs) - 1; i >= 0; i-- {
		if m.regs[i].name == name {
			m.dropLocked(i, m.regs[i])
			removed++
		}
	}
	return removed
}

func (m *Multiplexer) dropLocked(i int, reg *registration) {
	reg.removed = true
	if reg.timer != nil {
		reg.timer.Stop()
		reg.timer = nil
	}
	reg.pending = nil
	m.regs = append(m.regs[:i], m.regs[i+1:]...)
}

// RegistrationNames returns the distinct registrant names, for diagnostics.
func (m *Multiplexer) RegistrationNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for _, reg := range m.regs {
		if !seen[reg.name] {
			seen[reg.name] = true
			names = append(names, reg.name)
		}
	}
	return names
}

// Process applies one mutation batch. Removed subtrees are handled first so
// that an element removed and re-added within the same batch counts as a new
// appearance. Added subtrees are traversed exactly once; every active
// registration's selectors are tested during that single walk, and matched
// elements are delivered (or queued, for debounced registrations) in
// registration order.
func (m *Multiplexer) Process(batch MutationBatch) {
	m.mu.Lock()

	for _, root := range batch.Removed {
		walk(root, func(n *html.Node) bool {
			for _, reg := range m.regs {
				delete(reg.seen, n)
			}
			return true
		})
	}

	// matches[i] collects this batch's new appearances for m.regs[i].
	matches := make([][]*html.Node, len(m.regs))
	for _, root := range batch.Added {
		walk(root, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return true
			}
			for i, reg := range m.regs {
				if _, dup := reg.seen[n]; dup {
					continue
				}
				for _, sel := range reg.selectors {
					if sel.Match(n) {
						reg.seen[n] = struct{}{}
						matches[i] = append(matches[i], n)
						break
					}
				}
			}
			return true
		})
	}

	// Split into immediate deliveries (run after unlocking) and debounce
	// queues (armed under the lock).
	type delivery struct {
		reg   *registration
		nodes []*html.Node
	}
	var immediate []delivery
	for i, reg := range m.regs {
		if len(matches[i]) == 0 {
			continue
		}
		if !reg.debounce {
			immediate = append(immediate, delivery{reg, matches[i]})
			continue
		}
		reg.pending = append(reg.pending, matches[i]...)
		if reg.timer == nil {
			r := reg
			reg.timer = time.AfterFunc(reg.delay, func() { m.flush(r) })
		} else {
			reg.timer.Reset(reg.delay)
		}
	}
	m.mu.Unlock()

	for _, d := range immediate {
		for _, n := range d.nodes {
			m.deliver(d.reg, n)
		}
	}
}

// flush delivers a debounced registration's queued elements after the
// quiescence window elapsed without new matches.
func (m *Multiplexer) flush(reg *registration) {
	m.mu.Lock()
	if reg.removed {
		m.mu.Unlock()
		return
	}
	nodes := reg.pending
	reg.pending = nil
	reg.timer = nil
	m.mu.Unlock()

	for _, n := range nodes {
		m.deliver(reg, n)
	}
}

func (m *Multiplexer) deliver(reg *registration, n *html.Node) {
	defer func() {
		if r := recover(); r != nil {
			// The registration stays registered; only an explicit
			// unregister disables it.
			logger.ErrorCF("observer", "watch callback panicked", map[string]interface{}{
				"registrant": reg.name,
				"panic":      r,
			})
		}
	}()
	reg.cb(n)
}
