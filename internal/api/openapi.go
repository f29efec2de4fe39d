package api

import (
	"net/http"
	"strconv"
	"strings"
)

type routeDoc struct {
	method    string
	path      string
	summary   string
	body      string
	responses []int
}

var routeDocs = []routeDoc{
	{"get", "/status", "Queue and store status", "", []int{200}},
	{"post", "/flush", "Close the current interpreter batch", "", []int{204}},
	{"post", "/resync", "Replay every stored set", "", []int{202}},
	{"get", "/events", "Server-sent event stream", "", []int{200}},
	{"get", "/sets", "List sets", "", []int{200}},
	{"get", "/sets/{name}", "Get a set with its members", "", []int{200, 404}},
	{"put", "/sets/{name}", "Create a set", "PutSetRequest", []int{200, 201, 400, 409}},
	{"delete", "/sets/{name}", "Delete a set", "", []int{204, 404}},
	{"post", "/sets/{name}/members", "Add members", "AddMembersRequest", []int{200, 400, 404}},
	{"delete", "/sets/{name}/members/{member}", "Remove a member", "", []int{200, 400, 404}},
}

var requestSchemas = map[string]any{
	"PutSetRequest": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":    map[string]any{"type": "string", "enum": []string{"hash:ip", "hash:net"}},
			"family":  map[string]any{"type": "string", "enum": []string{"inet", "inet6"}},
			"maxelem": map[string]any{"type": "integer", "minimum": 0},
		},
	},
	"AddMembersRequest": map[string]any{
		"type":     "object",
		"required": []string{"members"},
		"properties": map[string]any{
			"members": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the control API.
func buildOpenAPIDoc(version string) map[string]any {
	paths := map[string]any{}
	for _, rd := range routeDocs {
		item, _ := paths[rd.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rd.path] = item
		}

		responses := map[string]any{
			"401": map[string]any{"description": "Missing or invalid API key"},
		}
		for _, code := range rd.responses {
			responses[strconv.Itoa(code)] = map[string]any{"description": http.StatusText(code)}
		}
		op := map[string]any{
			"operationId": operationID(rd.method, rd.path),
			"summary":     rd.summary,
			"responses":   responses,
			"security":    []any{map[string]any{"BearerAuth": []string{}}},
		}
		if rd.body != "" {
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"$ref": "#/components/schemas/" + rd.body},
					},
				},
			}
		}
		item[rd.method] = op
	}
	paths["/healthz"] = map[string]any{
		"get": map[string]any{
			"operationId": "get_healthz",
			"summary":     "Liveness probe",
			"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "fwup",
			"version": version,
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": requestSchemas,
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operationID(method, path string) string {
	r := strings.NewReplacer("/", "_", "{", "", "}", "")
	return method + strings.TrimRight(r.Replace(path), "_")
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Version))
}
