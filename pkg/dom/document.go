// Package dom mirrors the host page's document tree and multiplexes its
// structural changes to feature modules. Nodes are golang.org/x/net/html
// nodes; selectors are standard CSS selectors compiled with cascadia.
//
// The package does not talk to a browser itself: whatever feeds the mirror
// (the relay side-channel in production, hand-built trees in tests) delivers
// MutationBatch values to a single shared Multiplexer. No other code may
// observe the same tree, so delivery is never duplicated or interleaved.
package dom

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MutationBatch is one unit of structural change: the roots of subtrees
// added to the document and the roots of subtrees removed from it, in the
// order the host reported them.
type MutationBatch struct {
	Added   []*html.Node
	Removed []*html.Node
}

// Parse reads an HTML document into a node tree.
func Parse(r io.Reader) (*html.Node, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse document: %w", err)
	}
	return n, nil
}

// ParseFragment parses an HTML fragment in a div context and returns the
// top-level nodes. Handy for building mutation batches.
func ParseFragment(s string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}

// Compile turns a CSS selector into a matcher.
func Compile(selector string) (cascadia.Sel, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("dom: bad selector %q: %w", selector, err)
	}
	return sel, nil
}

// Query returns the first element under root (root included) matching the
// selector, or nil.
func Query(root *html.Node, selector string) (*html.Node, error) {
	sel, err := Compile(selector)
	if err != nil {
		return nil, err
	}
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && sel.Match(n) {
			found = n
			return false
		}
		return true
	})
	return found, nil
}

// QueryAll returns every element under root (root included) matching the
// selector, in document order.
func QueryAll(root *html.Node, selector string) ([]*html.Node, error) {
	sel, err := Compile(selector)
	if err != nil {
		return nil, err
	}
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && sel.Match(n) {
			out = append(out, n)
		}
		return true
	})
	return out, nil
}

// walk visits root and its descendants in document order. The visitor
// returns false to stop the walk.
func walk(root *html.Node, visit func(*html.Node) bool) bool {
	if root == nil {
		return true
	}
	if !visit(root) {
		return false
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}
