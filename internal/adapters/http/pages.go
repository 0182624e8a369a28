package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"licensure/internal/domain/filter"
	"licensure/internal/domain/flow"
)

//go:embed templates/*.html
var templateFS embed.FS

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set).
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// pageSpec describes one wizard page.
type pageSpec struct {
	Title  string
	Prompt string // markdown
}

var wizardPages = map[string]pageSpec{
	flow.EntryPage: {
		Title:  "Choose your role",
		Prompt: "Pick the role that describes you best.\nYour answers are remembered as you move through the steps.",
	},
	"competencies.html": {
		Title:  "Competency",
		Prompt: "Which **competency area** are you working on?",
	},
	"year.html": {
		Title:  "Level",
		Prompt: "How far along are you?",
	},
	"naab.html": {
		Title:  "NAAB criteria",
		Prompt: "Select every *NAAB* criterion that applies, then continue.",
	},
	"tasks.html": {
		Title:  "Your tasks",
		Prompt: "That's it. Your selections are summarised below.",
	},
}

// pageStep is one entry of the progress header.
type pageStep struct {
	Label   string
	Current bool
}

// selection is one summarised state entry.
type selection struct {
	Key   string
	Value string
}

// pageData is what page templates render.
type pageData struct {
	Page       string
	Title      string
	Prompt     string
	Role       string
	Steps      []pageStep
	Selections []selection
}

func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// pageRenderer holds the parsed templates of every wizard page.
type pageRenderer struct {
	templates map[string]*template.Template
}

// newPageRenderer parses the layout with each page template.
// PRE: every page in wizardPages has a template file of the same name
// POST: Returns a renderer or the first parse error
func newPageRenderer() (*pageRenderer, error) {
	funcMap := template.FuncMap{
		"renderMarkdown": renderMarkdown,
	}
	pr := &pageRenderer{templates: make(map[string]*template.Template, len(wizardPages))}
	for name := range wizardPages {
		tpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pr.templates[name] = tpl
	}
	return pr, nil
}

// has reports whether page is a wizard page.
func (pr *pageRenderer) has(page string) bool {
	_, ok := pr.templates[page]
	return ok
}

// render executes the page template for state.
func (pr *pageRenderer) render(page string, state filter.State, resolver *flow.Resolver) ([]byte, error) {
	tpl, ok := pr.templates[page]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", page)
	}
	spec := wizardPages[page]
	data := pageData{
		Page:       page,
		Title:      spec.Title,
		Prompt:     spec.Prompt,
		Role:       state.Role(),
		Selections: summarize(state),
	}
	if pages, ok := resolver.Flow(data.Role); ok {
		for _, p := range pages {
			data.Steps = append(data.Steps, pageStep{Label: wizardPages[p].Title, Current: p == page})
		}
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", page, err)
	}
	return buf.Bytes(), nil
}

// summarize lists state entries by key, lists joined with commas.
func summarize(state filter.State) []selection {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]selection, 0, len(keys))
	for _, k := range keys {
		v := state[k]
		if list, ok := v.([]any); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = filter.Stringify(item)
			}
			out = append(out, selection{Key: k, Value: strings.Join(parts, ", ")})
			continue
		}
		out = append(out, selection{Key: k, Value: filter.Stringify(v)})
	}
	return out
}
