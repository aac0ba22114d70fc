package api

import "fmt"

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one enqueue operation
// per registered task kind plus the fixed operator endpoints.
func buildOpenAPIDoc(kinds []string) map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Worker pool health and counters",
				"responses": map[string]any{
					"200": map[string]any{"description": "Pool running"},
					"503": map[string]any{"description": "Pool shutting down"},
				},
			},
		},
		"/tasks/log": map[string]any{
			"get": map[string]any{
				"operationId": "taskLog",
				"summary":     "Recent task outcomes, newest first",
				"parameters": []any{
					queryParam("kind", "string"),
					queryParam("status", "string"),
					queryParam("limit", "integer"),
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "Outcome list"},
					"404": map[string]any{"description": "Journal disabled"},
				},
			},
		},
	}

	for _, kind := range kinds {
		paths["/tasks/"+kind] = map[string]any{
			"post": map[string]any{
				"operationId": fmt.Sprintf("enqueue__%s", kind),
				"summary":     fmt.Sprintf("Queue a %s task", kind),
				"tags":        []string{"tasks"},
				"requestBody": map[string]any{
					"required": false,
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"type": "object"},
						},
					},
				},
				"responses": map[string]any{
					"202": map[string]any{"description": "Task queued"},
					"400": map[string]any{"description": "Bad request"},
					"503": map[string]any{"description": "Pool shutting down"},
				},
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Shopworker",
			"version": "1.0",
		},
		"paths": paths,
	}
}

func queryParam(name, typ string) map[string]any {
	return map[string]any{
		"name":     name,
		"in":       "query",
		"required": false,
		"schema":   map[string]any{"type": typ},
	}
}
