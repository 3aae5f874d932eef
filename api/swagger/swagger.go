package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Metaform API",
        "description": "Form definitions, typed replies and reply-level authorization",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Metaforms", "description": "Form definition management"},
        {"name": "Replies", "description": "Reply submission and retrieval"},
        {"name": "Notifications", "description": "Email notification configuration"},
        {"name": "Exports", "description": "Reply export rendering"},
        {"name": "Attachments", "description": "File upload and download"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/metaforms": {
            "get": {
                "tags": ["Metaforms"],
                "summary": "List form definitions",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Metaforms"],
                "summary": "Create form definition",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MetaformRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/metaforms/{id}": {
            "get": {
                "tags": ["Metaforms"],
                "summary": "Get form definition",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Metaforms"],
                "summary": "Replace form definition",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MetaformRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Metaforms"],
                "summary": "Delete form and its replies",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/api/v1/metaforms/{id}/replies": {
            "get": {
                "tags": ["Replies"],
                "summary": "List replies",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "fields", "in": "query", "type": "array", "items": {"type": "string"}},
                    {"name": "activeOnly", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Replies"],
                "summary": "Submit a reply",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReplyRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/metaforms/{id}/replies/{replyId}": {
            "get": {
                "tags": ["Replies"],
                "summary": "Get a reply with resolved values",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "replyId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Replies"],
                "summary": "Delete a reply",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "replyId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/api/v1/metaforms/{id}/replies/{replyId}/export": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export a single reply",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "replyId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "required": true, "type": "string", "enum": ["pdf", "xlsx", "csv"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/metaforms/{id}/export": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export all active replies",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "required": true, "type": "string", "enum": ["pdf", "xlsx", "csv"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports/download": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download an export by signed token",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File content"}
                }
            }
        },
        "/api/v1/attachments": {
            "post": {
                "tags": ["Attachments"],
                "summary": "Upload a file for a files field",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/metaforms/{id}/attachments/{attachmentId}": {
            "get": {
                "tags": ["Attachments"],
                "summary": "Download an attachment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "attachmentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File content"}
                }
            }
        },
        "/api/v1/metaforms/{id}/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List configured notifications",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Notifications"],
                "summary": "Configure an email notification",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/NotificationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/metaforms/{id}/notifications/{notificationId}": {
            "delete": {
                "tags": ["Notifications"],
                "summary": "Remove a configured notification",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "notificationId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/api/v1/metaforms/{id}/audit": {
            "get": {
                "tags": ["Metaforms"],
                "summary": "List the audit trail of a form",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "MetaformField": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "title": {"type": "string"},
                "type": {"type": "string", "enum": ["string", "number", "boolean", "list", "files", "table", "created", "modified", "lastModifier"]},
                "required": {"type": "boolean"},
                "options": {"type": "array", "items": {"type": "string"}},
                "columns": {"type": "array", "items": {"$ref": "#/definitions/TableColumn"}},
                "permissionContexts": {"$ref": "#/definitions/PermissionContexts"}
            }
        },
        "TableColumn": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "type": {"type": "string", "enum": ["text", "number"]}
            }
        },
        "PermissionContexts": {
            "type": "object",
            "properties": {
                "view": {"type": "boolean"},
                "edit": {"type": "boolean"},
                "notify": {"type": "boolean"}
            }
        },
        "MetaformRequest": {
            "type": "object",
            "properties": {
                "slug": {"type": "string"},
                "title": {"type": "string"},
                "allowAnonymous": {"type": "boolean"},
                "replyMode": {"type": "string", "enum": ["UPDATE", "REVISION", "CUMULATIVE"]},
                "fields": {"type": "array", "items": {"$ref": "#/definitions/MetaformField"}}
            },
            "required": ["slug", "title", "fields"]
        },
        "ReplyRequest": {
            "type": "object",
            "properties": {
                "values": {"type": "object"}
            },
            "required": ["values"]
        },
        "NotificationRequest": {
            "type": "object",
            "properties": {
                "subjectTemplate": {"type": "string"},
                "contentTemplate": {"type": "string"},
                "recipients": {"type": "array", "items": {"type": "string"}},
                "rule": {"type": "object"}
            },
            "required": ["subjectTemplate", "contentTemplate"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
