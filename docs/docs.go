// Package docs registers the OpenAPI document served at /swagger/doc.json.
// Regenerate with: swag init -g cmd/server/main.go -o docs
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/jobs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List active jobs",
                "parameters": [
                    {"type": "integer", "description": "max results (1-100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.JobProgress"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Checks the tenant quota, reserves one credit per item and queues the work in chunks.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Submit a generation job",
                "parameters": [
                    {"description": "job payload", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.createJobRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handler.createJobResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "402": {"description": "Payment Required", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/jobs/history": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Job history",
                "parameters": [
                    {"type": "string", "description": "filter by status", "name": "status", "in": "query"},
                    {"type": "integer", "description": "max results (1-100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.Job"}}}
                }
            }
        },
        "/jobs/{jobID}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get a job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "jobID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Job"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/jobs/{jobID}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Cancel a job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "jobID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Job"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/usage": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["usage"],
                "summary": "Usage summary for the caller's tenant",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.UsageStats"}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/usage/check": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["usage"],
                "summary": "Check whether a generation would fit the quota",
                "parameters": [
                    {"type": "integer", "description": "number of generations", "name": "count", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/quota.LimitResult"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/admin/queue/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Queue statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.QueueStats"}}
                }
            }
        },
        "/admin/tenants/{tenantID}/tier": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Change a tenant's tier",
                "parameters": [
                    {"type": "string", "description": "tenant id (uuid)", "name": "tenantID", "in": "path", "required": true},
                    {"description": "new tier", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.tierRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Usage"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/admin/tenants/{tenantID}/usage/reset": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Start a new usage period for a tenant",
                "parameters": [
                    {"type": "string", "description": "tenant id (uuid)", "name": "tenantID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Usage"}}
                }
            }
        },
        "/admin/keys": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "List API keys",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.keyResponse"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Create an API key",
                "parameters": [
                    {"description": "key name and scopes", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.createKeyRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.keyResponse"}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/admin/keys/{keyID}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Revoke an API key",
                "parameters": [
                    {"type": "string", "description": "key id (uuid)", "name": "keyID", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "handler.createJobRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "example": "generate_questions"},
                "items": {"type": "array", "items": {"type": "string"}},
                "priority": {"type": "integer"},
                "max_retries": {"type": "integer"}
            }
        },
        "handler.createJobResponse": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "job_ids": {"type": "array", "items": {"type": "string"}},
                "chunks": {"type": "integer"},
                "total_items": {"type": "integer"},
                "remaining_credits": {"type": "integer"}
            }
        },
        "handler.tierRequest": {
            "type": "object",
            "properties": {
                "tier": {"type": "string", "example": "pro"}
            }
        },
        "handler.createKeyRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "ci-runner"},
                "scopes": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handler.keyResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "key": {"type": "string"},
                "key_prefix": {"type": "string"},
                "scopes": {"type": "array", "items": {"type": "string"}},
                "last_used_at": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "models.Job": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "parent_id": {"type": "string"},
                "tenant_id": {"type": "string"},
                "user_id": {"type": "string"},
                "type": {"type": "string"},
                "status": {"type": "string"},
                "priority": {"type": "integer"},
                "input": {"type": "array", "items": {"type": "string"}},
                "output": {"type": "array", "items": {"type": "object"}},
                "progress": {"type": "integer"},
                "processed_count": {"type": "integer"},
                "total_count": {"type": "integer"},
                "retry_count": {"type": "integer"},
                "max_retries": {"type": "integer"},
                "retry_delay_ms": {"type": "integer"},
                "error": {"type": "string"},
                "eligible_at": {"type": "string"},
                "processing_time_ms": {"type": "integer"},
                "estimated_time_remaining": {"type": "integer"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "models.JobProgress": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "type": {"type": "string"},
                "status": {"type": "string"},
                "progress": {"type": "integer"},
                "processed_count": {"type": "integer"},
                "total_count": {"type": "integer"},
                "estimated_time_remaining": {"type": "integer"},
                "error": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "models.QueueStats": {
            "type": "object",
            "properties": {
                "queued": {"type": "integer"},
                "processing": {"type": "integer"},
                "completed": {"type": "integer"},
                "failed": {"type": "integer"},
                "cancelled": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "models.Usage": {
            "type": "object",
            "properties": {
                "tenant_id": {"type": "string"},
                "tier": {"type": "string"},
                "generations_limit": {"type": "integer"},
                "generations_this_month": {"type": "integer"},
                "generations_reserved": {"type": "integer"},
                "period_start": {"type": "string"},
                "period_end": {"type": "string"}
            }
        },
        "models.UsageStats": {
            "type": "object",
            "properties": {
                "tier": {"type": "string"},
                "limit": {"type": "integer"},
                "used": {"type": "integer"},
                "reserved": {"type": "integer"},
                "remaining": {"type": "integer"},
                "this_month": {"type": "object", "additionalProperties": {"type": "integer"}},
                "this_month_total": {"type": "integer"},
                "all_time": {"type": "integer"},
                "period_start": {"type": "string"},
                "period_end": {"type": "string"}
            }
        },
        "quota.LimitResult": {
            "type": "object",
            "properties": {
                "allowed": {"type": "boolean"},
                "remaining": {"type": "integer"},
                "limit": {"type": "integer"},
                "tier": {"type": "string"},
                "message": {"type": "string"}
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

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "genqueue API",
	Description:      "Quota-gated asynchronous AI generation queue.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
