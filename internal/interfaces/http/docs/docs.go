// Package docs registers the admin API's OpenAPI (Swagger 2.0) document for
// github.com/swaggo/http-swagger to serve at /swagger/*any.
//
// A real swaggo/swag toolchain run (`swag init`) would regenerate this file
// from the `@Summary`/`@Router` comments above each handler in
// internal/interfaces/http/handlers; this copy is hand-maintained instead,
// matching oxzoid-OSPay's own swaggo/http-swagger wiring (it vends an
// equivalent generated docs package the same way).
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/chains": {
            "get": {
                "tags": ["chains"],
                "summary": "List chains",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["chains"],
                "summary": "Register a chain",
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/v1/chains/{name}": {
            "delete": {
                "tags": ["chains"],
                "summary": "Remove a chain",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/chains/{name}/tokens": {
            "get": {
                "tags": ["tokens"],
                "summary": "List tokens",
                "produces": ["application/json"],
                "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["tokens"],
                "summary": "Register a token",
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/v1/invoices": {
            "post": {
                "tags": ["invoices"],
                "summary": "Create an invoice",
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/v1/invoices/{id}": {
            "get": {
                "tags": ["invoices"],
                "summary": "Get an invoice",
                "produces": ["application/json"],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/healthz": {
            "get": {
                "tags": ["ops"],
                "summary": "Liveness probe",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/metrics": {
            "get": {
                "tags": ["ops"],
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "gatewayd admin API",
	Description:      "Self-hosted cryptocurrency payment gateway admin API: chain/token registration and invoice lifecycle.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
