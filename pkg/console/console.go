// Package console is an interactive developer console for poking at the
// live mirror: which sub-states are hydrated, what the current epoch is,
// which features and watchers are registered.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tib-san/Toolasha-sub001/pkg/dom"
	"github.com/tib-san/Toolasha-sub001/pkg/feature"
	"github.com/tib-san/Toolasha-sub001/pkg/lifecycle"
	"github.com/tib-san/Toolasha-sub001/pkg/settings"
	"github.com/tib-san/Toolasha-sub001/pkg/state"
)

// Console reads commands from a readline prompt and answers from the
// mirror. It only ever reads; mutation stays with the frame pipeline.
type Console struct {
	store    *state.Store
	coord    *lifecycle.Coordinator
	observer *dom.Multiplexer
	features *feature.Registry
	flags    *settings.Store
}

// New wires a console over the running core.
func New(store *state.Store, coord *lifecycle.Coordinator, observer *dom.Multiplexer, features *feature.Registry, flags *settings.Store) *Console {
	return &Console{store: store, coord: coord, observer: observer, features: features, flags: flags}
}

// Run blocks on the prompt until EOF, "exit", or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.New("toolasha> ")
	if err != nil {
		return fmt.Errorf("console: init readline: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return nil
		}
		if done := c.execute(rl.Stdout(), strings.Fields(strings.TrimSpace(line))); done {
			return nil
		}
	}
}

func (c *Console) execute(w io.Writer, args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "exit", "quit":
		return true
	case "help":
		fmt.Fprintln(w, "commands: state <sub-state> | epoch | watchers | features | flags | exit")
		fmt.Fprintf(w, "sub-states: %s\n", subStateNames())
	case "epoch":
		fmt.Fprintf(w, "epoch=%d phase=%s reset_in_progress=%v\n",
			c.coord.Epoch(), c.coord.State(), c.coord.InProgress())
	case "watchers":
		names := c.observer.RegistrationNames()
		if len(names) == 0 {
			fmt.Fprintln(w, "no watch registrations")
			break
		}
		for _, n := range names {
			fmt.Fprintln(w, n)
		}
	case "features":
		for _, n := range c.features.Names() {
			fmt.Fprintln(w, n)
		}
	case "flags":
		if c.flags == nil {
			fmt.Fprintln(w, "no settings store")
			break
		}
		flags, err := c.flags.All()
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			break
		}
		for name, enabled := range flags {
			fmt.Fprintf(w, "%s=%v\n", name, enabled)
		}
	case "state":
		if len(args) < 2 {
			fmt.Fprintf(w, "usage: state <%s>\n", subStateNames())
			break
		}
		c.printSubState(w, state.SubState(args[1]))
	default:
		fmt.Fprintf(w, "unknown command %q (try help)\n", args[0])
	}
	return false
}

func subStateNames() string {
	names := make([]string, len(state.SubStates))
	for i, s := range state.SubStates {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func (c *Console) printSubState(w io.Writer, sub state.SubState) {
	if !c.store.Hydrated(sub) {
		fmt.Fprintf(w, "%s: absent (pre-init)\n", sub)
		return
	}
	switch sub {
	case state.SubCharacter:
		ch := c.store.Character()
		fmt.Fprintf(w, "%s (%s) level=%d mode=%s\n", ch.Name, ch.ID, ch.Level, ch.GameMode)
	case state.SubInventory:
		items := c.store.Inventory()
		fmt.Fprintf(w, "%d items\n", len(items))
		for _, item := range items {
			fmt.Fprintf(w, "  #%d %s x%d +%d\n", item.ID, item.ItemHrid, item.Count, item.EnhancementLevel)
		}
	case state.SubMarketListings:
		listings := c.store.MarketListings()
		fmt.Fprintf(w, "%d listings\n", len(listings))
		for _, l := range listings {
			fmt.Fprintf(w, "  #%d %s %s %d/%d @%d (%s)\n",
				l.ID, l.Side, l.ItemHrid, l.FilledQuantity, l.Quantity, l.UnitPrice, l.Status)
		}
	case state.SubActions:
		actions := c.store.Actions()
		fmt.Fprintf(w, "%d actions\n", len(actions))
		for _, a := range actions {
			fmt.Fprintf(w, "  #%d %s %d/%d pos=%d\n",
				a.ID, a.ActionHrid, a.CurrentCount, a.MaxCount, a.QueuePosition)
		}
	case state.SubQuests:
		quests := c.store.Quests()
		fmt.Fprintf(w, "%d quests\n", len(quests))
		for _, q := range quests {
			fmt.Fprintf(w, "  #%d %s %d/%d done=%v\n", q.ID, q.QuestHrid, q.Progress, q.Goal, q.Completed)
		}
	default:
		fmt.Fprintf(w, "unknown sub-state %q\n", sub)
	}
}
