package api

import (
	"html/template"
	"net/http"
	"strings"
)

var scalarPage = template.Must(template.New("scalar").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>{{.Title}} - API Reference</title>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<style>body { margin: 0; }</style>
</head>
<body>
	<script id="api-reference" data-url="{{.SpecURL}}"></script>
	<script>
		var configuration = {
			theme: 'default',
			layout: 'modern',
			hideDownloadButton: false,
			metaData: { title: {{.Title}}, description: {{.Description}} },
			servers: [{ url: window.location.origin, description: 'This harvester' }]
		}
		document.getElementById('api-reference').dataset.configuration = JSON.stringify(configuration)
	</script>
	<script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`))

// ScalarHandler serves the Scalar API reference for the spec at specURL.
func ScalarHandler(specURL, title, description string) http.Handler {
	var b strings.Builder
	err := scalarPage.Execute(&b, struct {
		Title, Description, SpecURL string
	}{title, description, specURL})
	page := b.String()

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err != nil {
			http.Error(w, "render docs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
}
