package flow

// BackKind classifies the result of a back resolution.
type BackKind int

const (
	// BackNone means there is no flow context; fall back to history.
	BackNone BackKind = iota
	// BackStep means Page is the preceding step.
	BackStep
	// BackExit means the current page is the first step: the role is
	// cleared and the visitor returns to the entry page.
	BackExit
)

// Back is the outcome of Resolver.Back.
type Back struct {
	Kind BackKind
	Page string
}

// Resolver computes wizard navigation over an immutable table.
type Resolver struct {
	table Table
	keys  PageKeys
}

// NewResolver builds a resolver with roles and pages normalized.
// PRE: table passes Validate
// POST: later changes to table or keys do not affect the resolver
func NewResolver(table Table, keys PageKeys) *Resolver {
	r := &Resolver{
		table: make(Table, len(table)),
		keys:  make(PageKeys, len(keys)),
	}
	for role, pages := range table {
		norm := make([]string, len(pages))
		for i, p := range pages {
			norm[i] = NormalizePage(p)
		}
		r.table[NormalizeRole(role)] = norm
	}
	for page, key := range keys {
		r.keys[NormalizePage(page)] = key
	}
	return r
}

// Flow returns a copy of the flow for role.
func (r *Resolver) Flow(role string) ([]string, bool) {
	pages, ok := r.table[NormalizeRole(role)]
	if !ok {
		return nil, false
	}
	out := make([]string, len(pages))
	copy(out, pages)
	return out, true
}

// Table returns a copy of the normalized flow table.
func (r *Resolver) Table() Table {
	out := make(Table, len(r.table))
	for role := range r.table {
		out[role], _ = r.Flow(role)
	}
	return out
}

// Keys returns a copy of the normalized page key map.
func (r *Resolver) Keys() PageKeys {
	out := make(PageKeys, len(r.keys))
	for k, v := range r.keys {
		out[k] = v
	}
	return out
}

// KeyFor returns the state key owned by page, or "".
func (r *Resolver) KeyFor(page string) string {
	return r.keys[NormalizePage(page)]
}

// IsEntry reports whether page is the entry page.
func (r *Resolver) IsEntry(page string) bool {
	return NormalizePage(page) == EntryPage
}

// locate returns the role's flow and the page's index in it, or -1.
func (r *Resolver) locate(role, page string) ([]string, int) {
	pages, ok := r.table[NormalizeRole(role)]
	if !ok {
		return nil, -1
	}
	p := NormalizePage(page)
	for i, candidate := range pages {
		if candidate == p {
			return pages, i
		}
	}
	return pages, -1
}

// Next returns the page after page in role's flow.
// PRE: none
// POST: ok is false when the role has no flow or page is not in it;
// at the terminal step the terminal page itself is returned
func (r *Resolver) Next(role, page string) (string, bool) {
	pages, i := r.locate(role, page)
	if i < 0 {
		return "", false
	}
	if i == len(pages)-1 {
		return pages[i], true
	}
	return pages[i+1], true
}

// Prev returns the page before page in role's flow.
// ok is false at the first step as well as when there is no flow context;
// use Back to tell the two apart.
func (r *Resolver) Prev(role, page string) (string, bool) {
	b := r.Back(role, page)
	if b.Kind != BackStep {
		return "", false
	}
	return b.Page, true
}

// Back resolves a back activation on page.
// PRE: none
// POST: BackExit with the entry page at the first step, BackStep with the
// preceding page in the middle of a flow, BackNone otherwise
func (r *Resolver) Back(role, page string) Back {
	pages, i := r.locate(role, page)
	switch {
	case i < 0:
		return Back{Kind: BackNone}
	case i == 0:
		return Back{Kind: BackExit, Page: EntryPage}
	}
	return Back{Kind: BackStep, Page: pages[i-1]}
}

// IsFirstStep reports whether page opens role's flow.
func (r *Resolver) IsFirstStep(role, page string) bool {
	_, i := r.locate(role, page)
	return i == 0
}

// BackHidden reports whether a back control on page should be hidden.
// It is hidden on the entry page and on the first step of the active flow.
func (r *Resolver) BackHidden(role, page string) bool {
	return r.IsEntry(page) || r.IsFirstStep(role, page)
}
