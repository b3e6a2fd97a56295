// Package docs registra la definición OpenAPI que sirve /swagger/*.
// Regenerar con: swag init -g cmd/api/main.go
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
        "/access-requests": {
            "post": {
                "description": "Solo doctores. Falla con 409 si ya hay un request pending para el mismo paciente y scope.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Pedir acceso a las historias de un paciente",
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "reason vacío / scope inválido"},
                    "401": {"description": "unauthorized"},
                    "403": {"description": "forbidden"},
                    "409": {"description": "duplicate pending request"}
                }
            }
        },
        "/access-requests/{requestID}/approve": {
            "post": {
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Aprobar un request",
                "parameters": [{"type": "string", "name": "requestID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "forbidden"},
                    "404": {"description": "not found"},
                    "409": {"description": "invalid state"}
                }
            }
        },
        "/access-requests/{requestID}/reject": {
            "post": {
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Rechazar un request",
                "parameters": [{"type": "string", "name": "requestID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "reason vacío"},
                    "409": {"description": "invalid state"}
                }
            }
        },
        "/access-requests/{requestID}/cancel": {
            "post": {
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Cancelar un request propio (doctor)",
                "parameters": [{"type": "string", "name": "requestID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "invalid state"}
                }
            }
        },
        "/grants/{grantID}/revoke": {
            "post": {
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Revocar un grant",
                "parameters": [{"type": "string", "name": "grantID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "forbidden"},
                    "404": {"description": "not found"},
                    "409": {"description": "invalid state: grant already revoked"}
                }
            }
        },
        "/access-check": {
            "get": {
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Chequear acceso del doctor autenticado a un record",
                "parameters": [
                    {"type": "string", "name": "patient_id", "in": "query", "required": true},
                    {"type": "string", "name": "record_id", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "parámetros faltantes"}}
            }
        },
        "/me/access-requests": {
            "get": {
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Listar mis access requests",
                "responses": {"200": {"description": "OK; X-Data-Source: ledger|fallback"}}
            }
        },
        "/me/grants": {
            "get": {
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Listar mis grants",
                "parameters": [{"type": "boolean", "name": "active", "in": "query"}],
                "responses": {"200": {"description": "OK; X-Data-Source: ledger|fallback"}}
            }
        },
        "/users/{userID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["directory"],
                "summary": "Perfil público de un usuario",
                "parameters": [{"type": "string", "name": "userID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "not found"}}
            }
        },
        "/proof/verify": {
            "get": {
                "produces": ["application/json"],
                "tags": ["proof"],
                "summary": "Verificar la cadena de pruebas de acceso",
                "responses": {"200": {"description": "OK"}, "409": {"description": "cadena rota"}}
            }
        },
        "/proof/entities/{entityID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["proof"],
                "summary": "Bloques de un request o grant",
                "parameters": [{"type": "string", "name": "entityID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "forbidden"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Medical Records Access API",
	Description:      "Access requests, grants and real-time notifications for medical records.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
