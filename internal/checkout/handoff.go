package checkout

import (
	"html/template"
	"io"
	"sort"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// Handoff is the auto-submitting form that sends the browser to the gateway.
// Field values are passed through exactly as the backend issued them.
type Handoff struct {
	OrderID model.ID
	Action  string
	Fields  model.GatewayParams
}

// HiddenField is one hidden input of the hand-off form.
type HiddenField struct {
	Name  string
	Value string
}

// Hidden returns one field per parameter, sorted by name.
func (h Handoff) Hidden() []HiddenField {
	keys := make([]string, 0, len(h.Fields))
	for k := range h.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]HiddenField, 0, len(keys))
	for _, k := range keys {
		out = append(out, HiddenField{Name: k, Value: h.Fields[k]})
	}
	return out
}

var handoffTemplate = template.Must(template.New("handoff").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to payment</title></head>
<body onload="document.forms[0].submit()">
<form method="POST" action="{{.Action}}">
{{- range .Hidden}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{- end}}
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

// RenderForm writes the hand-off page.
func (h Handoff) RenderForm(w io.Writer) error {
	return handoffTemplate.Execute(w, h)
}
