package notify

import (
	"bytes"
	"html/template"
	"io"
	"sync"
)

// Modal buttons carry one of these in their data-action attribute.
const (
	ActionDownload = "download"
	ActionRetry    = "retry"
	ActionClose    = "close"
)

var modalTemplates = template.Must(template.New("modal").Parse(`
{{define "loading"}}<div class="modal-state modal-loading" data-state="loading">
  <div class="spinner" aria-hidden="true"></div>
  <p>{{.Message}}</p>
</div>{{end}}

{{define "success"}}<div class="modal-state modal-success" data-state="success">
  <h2>✅ {{.Title}}</h2>
  <p class="message">{{.Message}}</p>
  {{- if .Link}}
  <p><a class="download-link" href="{{.Link}}" download="{{.File}}" data-action="download">{{if .File}}{{.File}}{{else}}Download{{end}}</a></p>
  {{- end}}
  {{- if .Steps}}
  <h3>To install:</h3>
  <ol>{{range .Steps}}<li>{{.}}</li>{{end}}</ol>
  <p class="warning">⚠️ {{.Warning}}</p>
  {{- end}}
  <div class="modal-actions">
    <button type="submit" name="action" value="close" data-action="close">Close</button>
  </div>
</div>{{end}}

{{define "failure"}}<div class="modal-state modal-error" data-state="error">
  <h2>❌ {{.Title}}</h2>
  <p class="message">{{.Message}}</p>
  <div class="modal-actions">
    <button type="submit" name="action" value="retry" data-action="retry">Try again</button>
    <button type="submit" name="action" value="close" data-action="close">Close</button>
  </div>
</div>{{end}}
`))

type modalData struct {
	Notice
	Warning string
}

// Modal renders overlay content for each notification. The most recent
// fragment is kept for the page that hosts the overlay.
type Modal struct {
	mu   sync.Mutex
	w    io.Writer
	last template.HTML
	err  error
}

// NewModal returns a Modal that also writes each fragment to w when w is
// not nil.
func NewModal(w io.Writer) *Modal {
	return &Modal{w: w}
}

func (m *Modal) render(name string, n Notice) {
	var buf bytes.Buffer
	err := modalTemplates.ExecuteTemplate(&buf, name, modalData{Notice: n, Warning: InstallWarning})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	if err != nil {
		return
	}
	m.last = template.HTML(buf.String())
	if m.w != nil {
		buf.WriteByte('\n')
		m.w.Write(buf.Bytes())
	}
}

func (m *Modal) Loading(message string) { m.render("loading", Notice{Message: message}) }

func (m *Modal) Success(n Notice) { m.render("success", n) }

func (m *Modal) Failure(n Notice) { m.render("failure", n) }

// HTML returns the last rendered fragment.
func (m *Modal) HTML() template.HTML {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Err returns the error from the last render, if any.
func (m *Modal) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
