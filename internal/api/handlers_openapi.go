package api

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"html/template"
	"log/slog"
	"net/http"

	"keyhub/internal/version"
)

//go:embed openapi/openapi.yaml
var openAPISpec []byte

// openAPIETag is fixed for the life of the binary.
var openAPIETag = func() string {
	sum := sha256.Sum256(openAPISpec)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

const docsCacheControl = "public, max-age=3600"

// ServeOpenAPISpec serves the embedded OpenAPI document.
// GET /api/openapi.yaml
func (h *Handlers) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", docsCacheControl)
	w.Header().Set("ETag", openAPIETag)
	if r.Header.Get("If-None-Match") == openAPIETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

// Try-it-out is limited to GET: submitting get-key from the docs page would
// spend the caller's one claim.
var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>keyhub API {{.Version}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: {{.SpecURL}},
      dom_id: '#swagger-ui',
      supportedSubmitMethods: ['get'],
      displayRequestDuration: true
    });
  </script>
</body>
</html>`))

var docsPageHTML = func() []byte {
	var buf bytes.Buffer
	data := struct{ Version, SpecURL string }{
		Version: version.Version,
		SpecURL: "/api/openapi.yaml",
	}
	if err := docsPage.Execute(&buf, data); err != nil {
		slog.Error("Failed to render docs page", "error", err)
	}
	return buf.Bytes()
}()

// ServeSwaggerUI serves a Swagger UI page reading /api/openapi.yaml.
// GET /api/docs
func (h *Handlers) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", docsCacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(docsPageHTML)
}
