// Package swagger loads the OpenAPI document, validates it at startup and
// serves it together with the Swagger UI.
package swagger

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	httpSwagger "github.com/swaggo/http-swagger"
)

const SpecRoute = "/openapi.yml"

type Spec struct {
	Doc *openapi3.T
	Raw []byte
}

// Load reads and validates the document at path.
func Load(ctx context.Context, path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return &Spec{Doc: doc, Raw: raw}, nil
}

// ServeSpec writes the raw document as loaded.
func (s *Spec) ServeSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(s.Raw)
}

// Operations returns "METHOD path" for every documented operation.
func (s *Spec) Operations() []string {
	var out []string
	for _, path := range s.Doc.Paths.InMatchingOrder() {
		item := s.Doc.Paths.Value(path)
		for method := range item.Operations() {
			out = append(out, method+" "+path)
		}
	}
	return out
}

func Handler() http.Handler {
	return httpSwagger.Handler(
		httpSwagger.URL(SpecRoute),
	)
}
