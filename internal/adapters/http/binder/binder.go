// Package binder discovers wizard controls declared in page markup, wires
// each one exactly once, and carries out their activations.
//
// Markup contract:
//
//	data-filter          filter control; data-key, data-value, data-next,
//	                     data-append="true", data-toggle="true"
//	data-back            back control; data-back-key overrides the cleared key
//	data-clear-filters   clear control; data-next
package binder

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/html/atom"

	"licensure/internal/domain/filter"
	"licensure/internal/domain/flow"
)

// FormID is the id of the form every decorated control submits.
const FormID = "wizard-controls"

// Form field names posted by decorated controls.
const (
	FieldPage    = "page"
	FieldControl = "control"
)

// Selector matches every control kind.
const Selector = "[data-filter], [data-back], [data-clear-filters]"

// ErrUnknownControl is returned when an activation names a control that was
// never bound.
var ErrUnknownControl = errors.New("unknown control")

// Kind is the control kind.
type Kind string

const (
	KindFilter Kind = "filter"
	KindBack   Kind = "back"
	KindClear  Kind = "clear"
)

// Control is one markup-declared control.
type Control struct {
	ID   string
	Page string
	Kind Kind

	Key      string // data-key, or data-back-key for back controls
	HasKey   bool
	Value    string // raw data-value
	HasValue bool
	Next     string // data-next
	Append   bool
	Toggle   bool
	Href     string // destination of a link-like control
}

// Options returns the list semantics of a filter control.
func (c Control) Options() filter.SetOptions {
	return filter.SetOptions{Append: c.Append, Toggle: c.Toggle}
}

// Multi reports whether the control writes a list.
func (c Control) Multi() bool {
	return c.Kind == KindFilter && (c.Append || c.Toggle)
}

// identity hashes everything that makes two controls behave differently
// into a 16 hex character id.
func (c Control) identity() string {
	h, _ := blake2b.New(8, nil)
	for _, part := range []string{
		c.Page, string(c.Kind),
		c.Key, strconv.FormatBool(c.HasKey),
		c.Value, strconv.FormatBool(c.HasValue),
		c.Next, strconv.FormatBool(c.Append), strconv.FormatBool(c.Toggle),
		c.Href,
	} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Navigation is what the visitor's browser should do after an activation.
type Navigation int

const (
	// Stay re-renders the current page.
	Stay Navigation = iota
	// NavigateTo goes to Outcome.Target.
	NavigateTo
	// HistoryBack returns to wherever the visitor came from.
	HistoryBack
	// FollowLink lets a link-like control go to its own href.
	FollowLink
)

func (n Navigation) String() string {
	switch n {
	case NavigateTo:
		return "navigate"
	case HistoryBack:
		return "history_back"
	case FollowLink:
		return "follow_link"
	}
	return "stay"
}

// Outcome is the result of one activation.
type Outcome struct {
	Control    Control
	Navigation Navigation
	Target     string
	Multi      bool
	Pressed    bool // membership after the write, for multi-select controls
	State      filter.State
}

// StateStore is the slice of the filter store the binder writes through.
type StateStore interface {
	Get(ctx context.Context) filter.State
	SetValue(ctx context.Context, key string, value any, opts filter.SetOptions) filter.State
	Remove(ctx context.Context, key string) filter.State
	Clear(ctx context.Context)
}

// Options configures a Binder.
type Options struct {
	Convention flow.ClearConvention
	FormAction string                                // defaults to "/activate"
	OnActivate func(kind Kind, elapsed time.Duration) // optional
}

// Binder tracks wired controls across every page it has seen.
type Binder struct {
	resolver *flow.Resolver
	opts     Options

	mu    sync.RWMutex
	wired map[string]Control
}

// New creates a Binder.
// PRE: resolver is non-nil
// POST: Returns a binder with no controls wired
func New(resolver *flow.Resolver, opts Options) *Binder {
	if opts.Convention == "" {
		opts.Convention = flow.ClearLeaving
	}
	if opts.FormAction == "" {
		opts.FormAction = "/activate"
	}
	return &Binder{
		resolver: resolver,
		opts:     opts,
		wired:    make(map[string]Control),
	}
}

// Convention returns the configured back-clear convention.
func (b *Binder) Convention() flow.ClearConvention {
	return b.opts.Convention
}

// Discover lists the controls declared in doc, in document order.
// PRE: doc is non-nil
// POST: every returned control has its ID set; the binder is unchanged
func Discover(page string, doc *goquery.Document) []Control {
	page = flow.NormalizePage(page)
	var out []Control
	doc.Find(Selector).Each(func(_ int, sel *goquery.Selection) {
		out = append(out, readControl(page, sel))
	})
	return out
}

func readControl(page string, sel *goquery.Selection) Control {
	c := Control{Page: page}
	_, isFilter := sel.Attr("data-filter")
	_, isBack := sel.Attr("data-back")
	switch {
	case isFilter:
		c.Kind = KindFilter
		c.Key, c.HasKey = sel.Attr("data-key")
		c.Value, c.HasValue = sel.Attr("data-value")
		c.Append = flag(sel, "data-append")
		c.Toggle = flag(sel, "data-toggle")
	case isBack:
		c.Kind = KindBack
		c.Key, c.HasKey = sel.Attr("data-back-key")
	default:
		c.Kind = KindClear
	}
	if c.Kind != KindBack {
		c.Next = strings.TrimSpace(sel.AttrOr("data-next", ""))
	}
	if href, ok := sel.Attr("data-href"); ok {
		c.Href = strings.TrimSpace(href)
	} else if goquery.NodeName(sel) == "a" {
		c.Href = strings.TrimSpace(sel.AttrOr("href", ""))
	}
	c.Key = strings.TrimSpace(c.Key)
	c.ID = c.identity()
	return c
}

func flag(sel *goquery.Selection, attr string) bool {
	v, ok := sel.Attr(attr)
	return ok && strings.EqualFold(strings.TrimSpace(v), "true")
}

// Bind wires the controls of doc.
// PRE: doc is non-nil
// POST: every control in doc is wired; returns how many were not wired before
// INVARIANT: binding the same markup again wires nothing new
func (b *Binder) Bind(page string, doc *goquery.Document) int {
	controls := Discover(page, doc)
	b.mu.Lock()
	defer b.mu.Unlock()
	added := 0
	for _, c := range controls {
		if _, ok := b.wired[c.ID]; ok {
			continue
		}
		b.wired[c.ID] = c
		added++
	}
	if added > 0 {
		slog.Debug("controls_bound", "page", flow.NormalizePage(page), "added", added, "total", len(b.wired))
	}
	return added
}

// Lookup returns a wired control.
func (b *Binder) Lookup(id string) (Control, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.wired[id]
	return c, ok
}

// Wired returns the number of wired controls.
func (b *Binder) Wired() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.wired)
}

// Decorate turns the controls of doc into submit buttons of one injected
// form and reflects state onto them.
// PRE: doc was bound for page
// POST: doc contains exactly one form with id FormID; multi-select controls
// carry aria-pressed; back controls are hidden and disabled where back is
// not offered
func (b *Binder) Decorate(page string, doc *goquery.Document, state filter.State, hidden map[string]string) {
	page = flow.NormalizePage(page)
	role := state.Role()
	backHidden := b.resolver.BackHidden(role, page)

	doc.Find(Selector).Each(func(_ int, sel *goquery.Selection) {
		c := readControl(page, sel)
		if c.Href != "" {
			sel.RemoveAttr("href")
			sel.SetAttr("data-href", c.Href)
		}
		if n := sel.Get(0); n.DataAtom != atom.Button {
			n.Data = "button"
			n.DataAtom = atom.Button
		}
		sel.SetAttr("type", "submit")
		sel.SetAttr("form", FormID)
		sel.SetAttr("name", FieldControl)
		sel.SetAttr("value", c.ID)

		switch {
		case c.Multi():
			pressed := state.Contains(c.Key, filter.ParseAttr(c.Value, c.HasValue))
			sel.SetAttr("aria-pressed", strconv.FormatBool(pressed))
		case c.Kind == KindBack && backHidden:
			sel.SetAttr("hidden", "")
			sel.SetAttr("disabled", "")
		case c.Kind == KindBack:
			sel.RemoveAttr("hidden")
			sel.RemoveAttr("disabled")
		}
	})

	doc.Find("form#" + FormID).Remove()
	doc.Find("body").AppendHtml(b.formHTML(page, hidden))
}

func (b *Binder) formHTML(page string, hidden map[string]string) string {
	fields := map[string]string{FieldPage: page}
	for k, v := range hidden {
		if k != FieldPage && k != FieldControl {
			fields[k] = v
		}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<form id="%s" method="post" action="%s">`, FormID, html.EscapeString(b.opts.FormAction))
	for _, name := range names {
		fmt.Fprintf(&sb, `<input type="hidden" name="%s" value="%s"/>`, html.EscapeString(name), html.EscapeString(fields[name]))
	}
	sb.WriteString(`</form>`)
	return sb.String()
}

// Render parses a page, binds and decorates its controls, and returns the
// resulting HTML.
// PRE: r yields an HTML document
// POST: Returns the decorated document and the number of newly wired controls
func (b *Binder) Render(page string, r io.Reader, state filter.State, hidden map[string]string) (string, int, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", 0, fmt.Errorf("parse page %s: %w", page, err)
	}
	added := b.Bind(page, doc)
	b.Decorate(page, doc, state, hidden)
	out, err := doc.Html()
	if err != nil {
		return "", 0, fmt.Errorf("render page %s: %w", page, err)
	}
	return out, added, nil
}

// Activate performs the action of a wired control.
// PRE: id was returned by a Bind of page
// POST: the state write, if any, completes before the navigation decision
// is made; returns ErrUnknownControl for an id not wired on page
func (b *Binder) Activate(ctx context.Context, store StateStore, page, id string) (Outcome, error) {
	c, ok := b.Lookup(id)
	page = flow.NormalizePage(page)
	if !ok || c.Page != page {
		return Outcome{}, fmt.Errorf("%w: %q on %s", ErrUnknownControl, id, page)
	}

	start := time.Now()
	var out Outcome
	switch c.Kind {
	case KindFilter:
		out = b.activateFilter(ctx, store, c)
	case KindBack:
		out = b.activateBack(ctx, store, c)
	default:
		out = b.activateClear(ctx, store, c)
	}
	out.Control = c

	if b.opts.OnActivate != nil {
		b.opts.OnActivate(c.Kind, time.Since(start))
	}
	slog.Debug("control_activated",
		"kind", c.Kind,
		"page", page,
		"navigation", out.Navigation.String(),
		"target", out.Target,
	)
	return out, nil
}

func (b *Binder) activateFilter(ctx context.Context, store StateStore, c Control) Outcome {
	out := Outcome{Multi: c.Multi()}
	var state filter.State
	if c.Key != "" {
		value := filter.ParseAttr(c.Value, c.HasValue)
		state = store.SetValue(ctx, c.Key, value, c.Options())
		if out.Multi {
			out.Pressed = state.Contains(c.Key, value)
		}
	} else {
		state = store.Get(ctx)
	}
	out.State = state

	switch {
	case c.Next != "":
		out.Navigation, out.Target = NavigateTo, c.Next
		return out
	case !out.Multi:
		if next, ok := b.resolver.Next(state.Role(), c.Page); ok && next != c.Page {
			out.Navigation, out.Target = NavigateTo, next
			return out
		}
	}
	if c.Href != "" {
		out.Navigation, out.Target = FollowLink, c.Href
	}
	return out
}

func (b *Binder) activateBack(ctx context.Context, store StateStore, c Control) Outcome {
	state := store.Get(ctx)
	back := b.resolver.Back(state.Role(), c.Page)

	key := b.backKey(c, back)
	if key != "" {
		state = store.Remove(ctx, key)
	}

	var out Outcome
	switch back.Kind {
	case flow.BackExit:
		state = store.Remove(ctx, filter.KeyRole)
		out.Navigation, out.Target = NavigateTo, flow.EntryPage
	case flow.BackStep:
		out.Navigation, out.Target = NavigateTo, back.Page
	default:
		out.Navigation = HistoryBack
	}
	out.State = state
	return out
}

// backKey picks the state key a back activation removes.
func (b *Binder) backKey(c Control, back flow.Back) string {
	if c.HasKey {
		return c.Key
	}
	if b.opts.Convention == flow.ClearEntering {
		if back.Kind == flow.BackStep {
			return b.resolver.KeyFor(back.Page)
		}
		return ""
	}
	return b.resolver.KeyFor(c.Page)
}

func (b *Binder) activateClear(ctx context.Context, store StateStore, c Control) Outcome {
	store.Clear(ctx)
	out := Outcome{State: store.Get(ctx)}
	if c.Next != "" {
		out.Navigation, out.Target = NavigateTo, c.Next
	}
	return out
}
