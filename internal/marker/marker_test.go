package marker

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/dom"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseBody(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "body" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if f := find(c); f != nil {
				return f
			}
		}
		return nil
	}
	return find(doc)
}

func render(t *testing.T, root *html.Node) string {
	t.Helper()
	var buf strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			t.Fatalf("render: %v", err)
		}
	}
	return buf.String()
}

func captureRange(t *testing.T, root *html.Node, sel anchor.Selection) *anchor.TextRange {
	t.Helper()
	rng, err := anchor.Capture(sel, root, "sec", "ch")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return rng
}

func TestMaterialize_SameNode(t *testing.T) {
	root := parseBody(t, `<p>The quick brown fox.</p>`)
	text := root.FirstChild.FirstChild
	rng := captureRange(t, root, anchor.Selection{
		StartNode: text, StartOffset: 4, EndNode: text, EndOffset: 9,
	})

	h := Materialize(rng, root, Options{Class: "highlight-marker highlight-yellow", ID: "h1"}, discardLogger())
	if h == nil {
		t.Fatal("expected a handle")
	}

	got := render(t, root)
	want := `<p>The <span class="highlight-marker highlight-yellow" data-highlight-id="h1">quick</span> brown fox.</p>`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if text := dom.Text(root); text != "The quick brown fox." {
		t.Errorf("marking changed the text content: %q", text)
	}
}

func TestMaterialize_SameNodeAtBoundaries(t *testing.T) {
	// Ranges touching the start or end of the node must not leave empty
	// sibling text nodes behind.
	root := parseBody(t, `<p>abcdef</p>`)
	text := root.FirstChild.FirstChild
	rng := captureRange(t, root, anchor.Selection{
		StartNode: text, StartOffset: 0, EndNode: text, EndOffset: 3,
	})

	h := Materialize(rng, root, Options{Class: "m"}, discardLogger())
	if h == nil {
		t.Fatal("expected a handle")
	}
	got := render(t, root)
	want := `<p><span class="m">abc</span>def</p>`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMaterialize_CrossNodeWrapsEachTextNode(t *testing.T) {
	root := parseBody(t, `<p>the quick <b>brown</b> fox</p>`)
	nodes := dom.TextNodes(root)
	rng := captureRange(t, root, anchor.Selection{
		StartNode: nodes[0], StartOffset: 4,
		EndNode: nodes[2], EndOffset: 4,
	})

	h := Materialize(rng, root, Options{Class: "m", ID: "h2"}, discardLogger())
	if h == nil {
		t.Fatal("expected a handle")
	}
	if len(h.Wrappers()) != 3 {
		t.Fatalf("expected 3 wrappers, got %d", len(h.Wrappers()))
	}

	got := render(t, root)
	want := `<p>the <span class="m" data-highlight-id="h2">quick </span><b><span class="m" data-highlight-id="h2">brown</span></b><span class="m" data-highlight-id="h2"> fox</span></p>`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if text := dom.Text(root); text != "the quick brown fox" {
		t.Errorf("marking changed the text content: %q", text)
	}
}

func TestRemove_RestoresOriginalTree(t *testing.T) {
	src := `<p>the quick <b>brown</b> fox</p>`
	root := parseBody(t, src)
	before := render(t, root)
	nodes := dom.TextNodes(root)
	rng := captureRange(t, root, anchor.Selection{
		StartNode: nodes[0], StartOffset: 4,
		EndNode: nodes[2], EndOffset: 4,
	})

	h := Materialize(rng, root, Options{Class: "m"}, discardLogger())
	if h == nil {
		t.Fatal("expected a handle")
	}
	h.Remove()

	after := render(t, root)
	if after != before {
		t.Errorf("removal did not restore the tree:\n before %q\n after  %q", before, after)
	}
	// The original text node layout is restored too, so a fresh capture on
	// the restored tree produces identical paths.
	if n := len(dom.TextNodes(root)); n != 3 {
		t.Errorf("expected 3 text nodes after removal, got %d", n)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	root := parseBody(t, `<p>hello world</p>`)
	text := root.FirstChild.FirstChild
	rng := captureRange(t, root, anchor.Selection{
		StartNode: text, StartOffset: 0, EndNode: text, EndOffset: 5,
	})

	h := Materialize(rng, root, Options{Class: "m"}, discardLogger())
	if h == nil {
		t.Fatal("expected a handle")
	}
	before := dom.Text(root)
	h.Remove()
	h.Remove()
	h.Remove()
	if got := dom.Text(root); got != before {
		t.Errorf("repeated removal changed text content: %q", got)
	}

	var nilHandle *Handle
	nilHandle.Remove() // must not panic
}

func TestMaterialize_StaleDescriptorYieldsNil(t *testing.T) {
	root := parseBody(t, `<p>short</p>`)
	rng := &anchor.TextRange{
		Start: "/p[4]/text()[1]", StartOffset: 0,
		End: "/p[4]/text()[1]", EndOffset: 3,
	}
	if h := Materialize(rng, root, Options{Class: "m"}, discardLogger()); h != nil {
		t.Errorf("expected nil handle for unresolvable path, got %v", h)
	}
}

func TestMaterialize_ElementPathYieldsNil(t *testing.T) {
	root := parseBody(t, `<p>short</p>`)
	rng := &anchor.TextRange{
		Start: "/p[1]", StartOffset: 0,
		End: "/p[1]", EndOffset: 3,
	}
	if h := Materialize(rng, root, Options{Class: "m"}, discardLogger()); h != nil {
		t.Errorf("expected nil handle when a path addresses an element, got %v", h)
	}
}

func TestMaterialize_CollapsedRangeYieldsNil(t *testing.T) {
	root := parseBody(t, `<p>hello</p>`)
	rng := &anchor.TextRange{
		Start: "/p[1]/text()[1]", StartOffset: 2,
		End: "/p[1]/text()[1]", EndOffset: 2,
	}
	if h := Materialize(rng, root, Options{Class: "m"}, discardLogger()); h != nil {
		t.Errorf("expected nil handle for collapsed range, got %v", h)
	}
}

func TestMaterialize_StaleOffsetsClamped(t *testing.T) {
	root := parseBody(t, `<p>tiny</p>`)
	rng := &anchor.TextRange{
		Start: "/p[1]/text()[1]", StartOffset: 0,
		End: "/p[1]/text()[1]", EndOffset: 500,
		Text: "tiny",
	}
	h := Materialize(rng, root, Options{Class: "m"}, discardLogger())
	if h == nil {
		t.Fatal("expected a handle with clamped offsets")
	}
	got := render(t, root)
	want := `<p><span class="m">tiny</span></p>`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMaterialize_ReversedOffsetsSwapped(t *testing.T) {
	root := parseBody(t, `<p>abcdef</p>`)
	rng := &anchor.TextRange{
		Start: "/p[1]/text()[1]", StartOffset: 5,
		End: "/p[1]/text()[1]", EndOffset: 1,
	}
	h := Materialize(rng, root, Options{Class: "m"}, discardLogger())
	if h == nil {
		t.Fatal("expected a handle")
	}
	got := render(t, root)
	want := `<p>a<span class="m">bcde</span>f</p>`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMaterializeRemove_RepeatedCycles(t *testing.T) {
	src := `<div><p>alpha beta</p><p>gamma delta</p></div>`
	root := parseBody(t, src)
	before := render(t, root)

	for i := 0; i < 5; i++ {
		nodes := dom.TextNodes(root)
		rng := captureRange(t, root, anchor.Selection{
			StartNode: nodes[0], StartOffset: 6,
			EndNode: nodes[1], EndOffset: 5,
		})
		h := Materialize(rng, root, Options{Class: "m"}, discardLogger())
		if h == nil {
			t.Fatalf("cycle %d: expected a handle", i)
		}
		h.Remove()
		if got := render(t, root); got != before {
			t.Fatalf("cycle %d: tree not restored:\n before %q\n after  %q", i, before, got)
		}
	}
}
