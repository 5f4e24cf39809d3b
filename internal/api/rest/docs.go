package rest

import (
	_ "embed"
	"net/http"
)

// OpenAPISpec is the contract for the v1 API
//
//go:embed openapi.yaml
var OpenAPISpec []byte

func serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(OpenAPISpec)
}
