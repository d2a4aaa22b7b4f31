// Package swagger serves the OpenAPI description of the leaderboard API.
package swagger

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Path is where the document is served.
const Path = "/openapi.yaml"

// OpenAPI contains the embedded OpenAPI YAML specification.
//
//go:embed openapi.yaml
var OpenAPI []byte

// Register attaches the OpenAPI document route to r.
func Register(r chi.Router) {
	if r == nil {
		panic("router is nil")
	}
	r.Get(Path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}
