package dom

import (
	"io"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

func init() {
	logger.SetOutput(io.Discard)
}

func fragment(t *testing.T, src string) []*html.Node {
	t.Helper()
	nodes, err := ParseFragment(src)
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	return nodes
}

func TestRegisterRejectsBadSelector(t *testing.T) {
	m := NewMultiplexer(0)
	if _, err := m.Register("w", []string{"??bogus"}, func(*html.Node) {}, nil); err == nil {
		t.Fatal("expected error for unparseable selector")
	}
}

// TestOneInvocationPerAppearance: a registration matching N distinct
// elements across M batches is invoked exactly N times.
func TestOneInvocationPerAppearance(t *testing.T) {
	m := NewMultiplexer(0)
	var got []*html.Node
	if _, err := m.Register("prices", []string{".price"}, func(el *html.Node) {
		got = append(got, el)
	}, nil); err != nil {
		t.Fatal(err)
	}

	first := fragment(t, `<div><span class="price">1</span><span class="price">2</span></div>`)
	second := fragment(t, `<span class="price">3</span>`)

	m.Process(MutationBatch{Added: first})
	m.Process(MutationBatch{Added: second})

	if len(got) != 3 {
		t.Fatalf("expected 3 invocations for 3 distinct elements, got %d", len(got))
	}
}

func TestRepeatedPresenceNotRedelivered(t *testing.T) {
	m := NewMultiplexer(0)
	calls := 0
	if _, err := m.Register("w", []string{".price"}, func(*html.Node) { calls++ }, nil); err != nil {
		t.Fatal(err)
	}

	nodes := fragment(t, `<span class="price">1</span>`)
	for i := 0; i < 4; i++ {
		m.Process(MutationBatch{Added: nodes})
	}
	if calls != 1 {
		t.Fatalf("expected 1 invocation across repeated batches, got %d", calls)
	}
}

// TestReappearanceRedelivered: removal followed by re-insertion is a new
// appearance and is delivered again.
func TestReappearanceRedelivered(t *testing.T) {
	m := NewMultiplexer(0)
	calls := 0
	if _, err := m.Register("w", []string{".panel"}, func(*html.Node) { calls++ }, nil); err != nil {
		t.Fatal(err)
	}

	nodes := fragment(t, `<div class="panel"></div>`)
	m.Process(MutationBatch{Added: nodes})
	m.Process(MutationBatch{Removed: nodes})
	m.Process(MutationBatch{Added: nodes})

	if calls != 2 {
		t.Fatalf("expected 2 invocations across remove/re-add, got %d", calls)
	}
}

func TestRemovalClearsDescendantMarkers(t *testing.T) {
	m := NewMultiplexer(0)
	calls := 0
	if _, err := m.Register("w", []string{".price"}, func(*html.Node) { calls++ }, nil); err != nil {
		t.Fatal(err)
	}

	// The matching element is a descendant of the removed root.
	nodes := fragment(t, `<div class="panel"><span class="price">1</span></div>`)
	m.Process(MutationBatch{Added: nodes})
	m.Process(MutationBatch{Removed: nodes})
	m.Process(MutationBatch{Added: nodes})

	if calls != 2 {
		t.Fatalf("expected descendant markers cleared on subtree removal, got %d calls", calls)
	}
}

// TestSharedSelectorIndependentRegistrations: two watchers with the same
// selector under different names each fire exactly once for one element.
func TestSharedSelectorIndependentRegistrations(t *testing.T) {
	m := NewMultiplexer(0)
	callsA, callsB := 0, 0
	if _, err := m.Register("alpha", []string{".panel"}, func(*html.Node) { callsA++ }, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Register("beta", []string{".panel"}, func(*html.Node) { callsB++ }, nil); err != nil {
		t.Fatal(err)
	}

	m.Process(MutationBatch{Added: fragment(t, `<div class="panel"></div>`)})

	if callsA != 1 || callsB != 1 {
		t.Fatalf("expected one invocation each, got alpha=%d beta=%d", callsA, callsB)
	}
}

func TestRegistrationOrderWithinBatch(t *testing.T) {
	m := NewMultiplexer(0)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		if _, err := m.Register(name, []string{".panel"}, func(*html.Node) {
			order = append(order, name)
		}, nil); err != nil {
			t.Fatal(err)
		}
	}

	m.Process(MutationBatch{Added: fragment(t, `<div class="panel"></div>`)})

	want := []string{"first", "second", "third"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestMultipleSelectorsSingleDelivery(t *testing.T) {
	m := NewMultiplexer(0)
	calls := 0
	if _, err := m.Register("w", []string{"div.panel", ".panel"}, func(*html.Node) { calls++ }, nil); err != nil {
		t.Fatal(err)
	}

	m.Process(MutationBatch{Added: fragment(t, `<div class="panel"></div>`)})
	if calls != 1 {
		t.Fatalf("element matching several selectors of one registration must deliver once, got %d", calls)
	}
}

func TestPanickingCallbackStaysRegistered(t *testing.T) {
	m := NewMultiplexer(0)
	goodCalls := 0
	if _, err := m.Register("bad", []string{".panel"}, func(*html.Node) {
		panic("widget bug")
	}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Register("good", []string{".panel"}, func(*html.Node) { goodCalls++ }, nil); err != nil {
		t.Fatal(err)
	}

	m.Process(MutationBatch{Added: fragment(t, `<div class="panel">a</div>`)})
	if goodCalls != 1 {
		t.Fatalf("panic in one registration blocked another, good=%d", goodCalls)
	}

	// The offending registration is not auto-unregistered: a fresh
	// element still reaches it (and panics again, still contained).
	m.Process(MutationBatch{Added: fragment(t, `<div class="panel">b</div>`)})
	if goodCalls != 2 {
		t.Fatalf("expected good registration to keep firing, got %d", goodCalls)
	}
	if names := m.RegistrationNames(); len(names) != 2 {
		t.Fatalf("expected both registrations still present, got %v", names)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	m := NewMultiplexer(0)
	calls := 0
	unregister, err := m.Register("w", []string{".panel"}, func(*html.Node) { calls++ }, nil)
	if err != nil {
		t.Fatal(err)
	}

	unregister()
	unregister() // second call is safe

	m.Process(MutationBatch{Added: fragment(t, `<div class="panel"></div>`)})
	if calls != 0 {
		t.Fatalf("unregistered watcher still fired %d times", calls)
	}
}

func TestUnregisterAllSafeWithoutMatches(t *testing.T) {
	m := NewMultiplexer(0)
	if _, err := m.Register("widget", []string{".never-appears"}, func(*html.Node) {}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Register("widget", []string{".also-never"}, func(*html.Node) {}, nil); err != nil {
		t.Fatal(err)
	}

	if removed := m.UnregisterAll("widget"); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if removed := m.UnregisterAll("widget"); removed != 0 {
		t.Fatalf("expected repeat UnregisterAll to remove 0, got %d", removed)
	}
	if removed := m.UnregisterAll("never-registered"); removed != 0 {
		t.Fatalf("expected unknown name to remove 0, got %d", removed)
	}
}

// TestDebounceCoalescesBatches: five batches re-presenting the same element
// inside the quiescence window produce exactly one invocation, after
// quiescence.
func TestDebounceCoalescesBatches(t *testing.T) {
	m := NewMultiplexer(0)
	calls := make(chan struct{}, 16)
	_, err := m.Register("w", []string{".panel"}, func(*html.Node) {
		calls <- struct{}{}
	}, &Options{Debounce: true, DebounceDelay: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	nodes := fragment(t, `<div class="panel"></div>`)
	for i := 0; i < 5; i++ {
		m.Process(MutationBatch{Added: nodes})
		time.Sleep(15 * time.Millisecond)
	}

	select {
	case <-calls:
		t.Fatal("debounced callback fired before quiescence")
	default:
	}

	select {
	case <-calls:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("debounced callback never fired")
	}

	select {
	case <-calls:
		t.Fatal("debounced callback fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDebounceTimerResetByNewMatches(t *testing.T) {
	m := NewMultiplexer(0)
	calls := make(chan *html.Node, 16)
	_, err := m.Register("w", []string{".panel"}, func(el *html.Node) {
		calls <- el
	}, &Options{Debounce: true, DebounceDelay: 80 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	// New distinct matches keep superseding the pending timer.
	for i := 0; i < 3; i++ {
		m.Process(MutationBatch{Added: fragment(t, `<div class="panel"></div>`)})
		time.Sleep(30 * time.Millisecond)
	}

	select {
	case <-calls:
		t.Fatal("timer was not superseded by newer matches")
	default:
	}

	deadline := time.After(500 * time.Millisecond)
	for i := 0; i < 3; i++ {
		select {
		case <-calls:
		case <-deadline:
			t.Fatalf("expected 3 queued elements delivered after quiescence, got %d", i)
		}
	}
}

func TestUnregisterCancelsPendingDebounce(t *testing.T) {
	m := NewMultiplexer(0)
	calls := make(chan struct{}, 1)
	unregister, err := m.Register("w", []string{".panel"}, func(*html.Node) {
		calls <- struct{}{}
	}, &Options{Debounce: true, DebounceDelay: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	m.Process(MutationBatch{Added: fragment(t, `<div class="panel"></div>`)})
	unregister()

	select {
	case <-calls:
		t.Fatal("pending debounce survived unregistration")
	case <-time.After(150 * time.Millisecond):
	}
}
