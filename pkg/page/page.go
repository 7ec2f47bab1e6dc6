// Package page serves a download page: a button that starts the download
// flow and a modal overlay that shows how it went.
package page

import (
	"html/template"
)

const (
	ButtonID = "downloadBtn"
	ModalID  = "downloadModal"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Download {{.Filename}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 0; padding: 4rem 1rem; text-align: center; }
#{{.ButtonID}} { font-size: 1.1rem; padding: .8rem 2rem; cursor: pointer; }
.modal { display: none; position: fixed; inset: 0; background: rgba(0,0,0,.5); }
.modal.open { display: flex; align-items: center; justify-content: center; }
.modal-content { background: #fff; border-radius: 8px; padding: 2rem; max-width: 32rem; text-align: left; }
.modal-content .message { white-space: pre-line; }
.modal-actions { display: flex; gap: .5rem; justify-content: flex-end; }
</style>
</head>
<body>
<form method="post" action="/download">
  <h1>{{.Filename}}</h1>
  <button type="submit" id="{{.ButtonID}}" name="action" value="download" data-action="download"{{if .Busy}} disabled{{end}}>Download</button>
  <div id="{{.ModalID}}" class="modal{{if .Modal}} open{{end}}" role="dialog" aria-modal="true">
    <div class="modal-content">{{.Modal}}</div>
  </div>
</form>
{{- if .AutoStart}}
<script>
(function () {
  var link = document.querySelector('#{{.ModalID}} .download-link');
  if (link) { link.click(); }
})();
</script>
{{- end}}
</body>
</html>
`))

type pageData struct {
	Filename  string
	ButtonID  string
	ModalID   string
	Modal     template.HTML
	Busy      bool
	AutoStart bool
}
