package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

const apiPrefix = "/api/v2"

// OpenAPI describes the v2 routes registered on the engine. The server
// list has one entry per configured site.
func (h *Handler) OpenAPI(c *gin.Context) {
	scheme := "http"
	if h.Config.HTTPS {
		scheme = "https"
	}
	servers := []gin.H{}
	for _, site := range h.Sites.All() {
		servers = append(servers, gin.H{"url": scheme + "://" + site.Domain + apiPrefix, "description": site.Name})
	}

	paths := gin.H{}
	routes := h.engine.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	for _, route := range routes {
		if !strings.HasPrefix(route.Path, apiPrefix+"/") {
			continue
		}
		p, params := openAPIPath(strings.TrimPrefix(route.Path, apiPrefix))
		item, ok := paths[p].(gin.H)
		if !ok {
			item = gin.H{}
			paths[p] = item
		}
		item[strings.ToLower(route.Method)] = operation(route.Method, p, params)
	}

	c.JSON(http.StatusOK, gin.H{
		"openapi": "3.0.3",
		"info": gin.H{
			"title":   "Manga reader API",
			"version": h.Config.Version,
		},
		"servers": servers,
		"paths":   paths,
		"components": gin.H{
			"schemas": gin.H{
				"Error": gin.H{
					"type": "object",
					"properties": gin.H{
						"error":  gin.H{"type": "string"},
						"status": gin.H{"type": "integer"},
					},
				},
			},
			"securitySchemes": gin.H{
				"apiKey":      gin.H{"type": "apiKey", "in": "header", "name": "X-API-Key"},
				"apiKeyQuery": gin.H{"type": "apiKey", "in": "query", "name": "api_key"},
				"session":     gin.H{"type": "apiKey", "in": "cookie", "name": "sessionid"},
			},
		},
	})
}

// openAPIPath converts gin parameters (":id") to OpenAPI templates ("{id}").
func openAPIPath(p string) (string, []string) {
	segs := strings.Split(p, "/")
	var params []string
	for i, seg := range segs {
		if strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "*") {
			name := seg[1:]
			params = append(params, name)
			segs[i] = "{" + name + "}"
		}
	}
	return strings.Join(segs, "/"), params
}

func operation(method, p string, params []string) gin.H {
	op := gin.H{
		"operationId": strings.ToLower(method) + strings.NewReplacer("/", "_", "{", "", "}", "", ".", "_").Replace(p),
		"responses": gin.H{
			"default": gin.H{"description": "Error", "content": gin.H{"application/json": gin.H{"schema": gin.H{"$ref": "#/components/schemas/Error"}}}},
		},
	}
	ok := "200"
	switch method {
	case http.MethodPost:
		ok = "201"
	case http.MethodDelete:
		ok = "204"
	}
	op["responses"].(gin.H)[ok] = gin.H{"description": "Success"}

	var parameters []gin.H
	for _, name := range params {
		parameters = append(parameters, gin.H{"name": name, "in": "path", "required": true, "schema": gin.H{"type": "string"}})
	}
	if method == http.MethodGet && (p == "/series" || p == "/chapters") {
		for _, name := range []string{"page", "limit", "sort", "q"} {
			parameters = append(parameters, gin.H{"name": name, "in": "query", "schema": gin.H{"type": "string"}})
		}
	}
	if len(parameters) > 0 {
		op["parameters"] = parameters
	}
	if method != http.MethodGet {
		op["security"] = []gin.H{{"apiKey": []string{}}, {"apiKeyQuery": []string{}}, {"session": []string{}}}
	}
	return op
}
