// Package panel renders the session transcript and manages the single
// surface it is shown on.
package panel

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/youruser/pairprog/internal/state"
)

//go:embed templates/*.html
var templatesFS embed.FS

const timeLayout = "15:04:05"

// View is everything the transcript page shows.
type View struct {
	Title   string
	Entries []state.Entry
	Live    bool // add the reload script and close button of the browser panel
}

type viewEntry struct {
	ID       string
	Sent     bool
	Resource string
	Text     string
	Model    string
	Added    int
	Removed  int
	Time     string
}

type viewData struct {
	Title   string
	Entries []viewEntry
	Live    bool
}

// Renderer turns a transcript into a complete HTML document. Diff and reply
// text is treated as untrusted and escaped by the template engine.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded transcript template.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render rebuilds the whole document from v. The output depends only on v.
func (r *Renderer) Render(v View) (string, error) {
	data := viewData{Title: v.Title, Live: v.Live}
	for _, e := range v.Entries {
		ve := viewEntry{
			ID:       e.ID,
			Sent:     e.IsSent(),
			Resource: e.Resource,
			Text:     e.Text,
			Model:    e.Model,
			Added:    e.Added,
			Removed:  e.Removed,
		}
		if !e.Timestamp.IsZero() {
			ve.Time = e.Timestamp.Format(timeLayout)
		}
		data.Entries = append(data.Entries, ve)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "transcript.html", data); err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}
	return buf.String(), nil
}
