package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clinops/clinops/internal/platform/auth"
)

// SpecPath is where the generated document is served.
const SpecPath = "/openapi.json"

var documentedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Generator builds an OpenAPI 3.0 document from the routes registered on an
// echo instance.
type Generator struct {
	title     string
	version   string
	summaries map[string]string
}

// NewGenerator creates a new OpenAPI document generator.
func NewGenerator(title, version string) *Generator {
	return &Generator{title: title, version: version, summaries: make(map[string]string)}
}

// Describe attaches a summary to the operation registered as method+path.
func (g *Generator) Describe(method, path, summary string) *Generator {
	g.summaries[method+" "+path] = summary
	return g
}

// GenerateSpec produces the OpenAPI document for routes as a map.
func (g *Generator) GenerateSpec(routes []*echo.Route) map[string]interface{} {
	paths := make(map[string]interface{})

	sorted := make([]*echo.Route, 0, len(routes))
	for _, r := range routes {
		if documentedMethods[r.Method] && r.Path != "" && !strings.HasSuffix(r.Path, "*") {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Method < sorted[j].Method
	})

	for _, r := range sorted {
		oaPath, params := convertPath(r.Path)
		item, _ := paths[oaPath].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[oaPath] = item
		}
		item[strings.ToLower(r.Method)] = g.buildOperation(r, params)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"paths": paths,
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]interface{}{
				"Envelope": buildEnvelopeSchema(),
			},
		},
	}
}

func (g *Generator) buildOperation(r *echo.Route, params []string) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": operationID(r.Method, r.Path),
		"responses":   buildResponses(r.Method, r.Path),
	}
	if s, ok := g.summaries[r.Method+" "+r.Path]; ok {
		op["summary"] = s
	}
	if tag := tagFor(r.Path); tag != "" {
		op["tags"] = []string{tag}
	}
	if len(params) > 0 {
		list := make([]map[string]interface{}, 0, len(params))
		for _, p := range params {
			list = append(list, map[string]interface{}{
				"name":     p,
				"in":       "path",
				"required": true,
				"schema":   map[string]string{"type": "string"},
			})
		}
		op["parameters"] = list
	}
	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		op["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				echo.MIMEApplicationJSON: map[string]interface{}{
					"schema": map[string]string{"type": "object"},
				},
			},
		}
	}
	if !auth.IsPublicPath(r.Path) {
		op["security"] = []map[string][]string{{"bearerAuth": {}}}
	}
	return op
}

// convertPath rewrites echo ":param" segments to OpenAPI "{param}" form and
// returns the parameter names in order.
func convertPath(path string) (string, []string) {
	segments := strings.Split(path, "/")
	var params []string
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			params = append(params, name)
			segments[i] = "{" + name + "}"
		}
	}
	return strings.Join(segments, "/"), params
}

// operationID derives a stable camelCase identifier such as
// "getClinicalVisitsById" from the method and path.
func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, ":") {
			b.WriteString("By")
			seg = seg[1:]
		}
		for _, part := range strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' || r == '.' }) {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

// tagFor groups operations by the segment after "clinical", or by the first
// segment for everything else.
func tagFor(path string) string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" && !strings.HasPrefix(s, ":") {
			segs = append(segs, s)
		}
	}
	for i, s := range segs {
		if s == "clinical" && i+1 < len(segs) {
			return segs[i+1]
		}
	}
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

func buildResponses(method, path string) map[string]interface{} {
	ok := "200"
	if method == http.MethodPost {
		ok = "201"
	}
	responses := map[string]interface{}{
		ok: buildResponseWithSchema("Success", "#/components/schemas/Envelope"),
	}
	if auth.IsPublicPath(path) {
		return responses
	}
	responses["400"] = buildResponseWithSchema("Validation failed", "#/components/schemas/Envelope")
	responses["401"] = buildResponseWithSchema("Missing or rejected bearer token", "#/components/schemas/Envelope")
	responses["403"] = buildResponseWithSchema("Permission denied", "#/components/schemas/Envelope")
	if strings.Contains(path, ":") {
		responses["404"] = buildResponseWithSchema("Not found", "#/components/schemas/Envelope")
	}
	return responses
}

func buildResponseWithSchema(description, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			echo.MIMEApplicationJSON: map[string]interface{}{
				"schema": map[string]interface{}{
					"$ref": schemaRef,
				},
			},
		},
	}
}

func buildEnvelopeSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"success"},
		"properties": map[string]interface{}{
			"success": map[string]string{"type": "boolean"},
			"data":    map[string]interface{}{"nullable": true},
			"error":   map[string]string{"type": "string"},
			"pagination": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit":  map[string]string{"type": "integer"},
					"offset": map[string]string{"type": "integer"},
					"count":  map[string]string{"type": "integer"},
				},
			},
		},
	}
}

// RegisterRoutes serves the document generated from every route registered
// on e at the time of the request.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET(SpecPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec(e.Routes()))
	})
}
