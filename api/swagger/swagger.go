package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Site Report API",
        "description": "Report generation and delivery for construction site records",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Reports", "description": "Report intake, status and downloads"},
        {"name": "Events", "description": "Workflow events from sibling services"}
    ],
    "paths": {
        "/organizations/{orgId}/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Request a report",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "orgId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a member", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Reports"],
                "summary": "List organization reports",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "orgId", "in": "path", "required": true, "type": "string"},
                    {"name": "requestedBy", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["queued", "processing", "completed", "failed"]},
                    {"name": "kind", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report status",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ReportStatus"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Reports"],
                "summary": "Delete a report and its artifact",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}/download": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a report artifact",
                "security": [{"BearerAuth": []}],
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["pdf", "excel", "csv", "json"]}
                ],
                "responses": {
                    "200": {"description": "Artifact bytes"},
                    "202": {"description": "Not ready", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Report failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}/retry": {
            "post": {
                "tags": ["Reports"],
                "summary": "Retry a failed report",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not in failed state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/download/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a report with a signed token",
                "produces": ["application/octet-stream"],
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Artifact bytes"},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/internal/events/inspection-finalized": {
            "post": {
                "tags": ["Events"],
                "summary": "Record an ITP report for a finalized inspection",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/InspectionFinalizedEvent"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateReportRequest": {
            "type": "object",
            "required": ["kind", "format"],
            "properties": {
                "kind": {"type": "string", "enum": ["project_summary", "diary_export", "inspection_summary", "ncr_report", "financial_summary"]},
                "format": {"type": "string", "enum": ["pdf", "excel", "csv", "json"]},
                "name": {"type": "string"},
                "parameters": {"type": "object"}
            }
        },
        "ReportStatus": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "organizationId": {"type": "string"},
                "kind": {"type": "string"},
                "format": {"type": "string"},
                "name": {"type": "string"},
                "parameters": {"type": "object"},
                "status": {"type": "string"},
                "progress": {"type": "integer"},
                "currentStep": {"type": "string"},
                "error": {"type": "string"},
                "fileSize": {"type": "integer"},
                "mimeType": {"type": "string"},
                "requestedBy": {"type": "string"},
                "requestedAt": {"type": "string", "format": "date-time"},
                "updatedAt": {"type": "string", "format": "date-time"},
                "completedAt": {"type": "string", "format": "date-time"},
                "downloadUrl": {"type": "string"},
                "downloadExpiresAt": {"type": "string", "format": "date-time"}
            }
        },
        "InspectionFinalizedEvent": {
            "type": "object",
            "required": ["organizationId", "projectId", "inspectionInstanceId", "finalizedBy"],
            "properties": {
                "organizationId": {"type": "string"},
                "projectId": {"type": "string"},
                "inspectionInstanceId": {"type": "string"},
                "templateName": {"type": "string"},
                "result": {"type": "string"},
                "finalizedBy": {"type": "string"},
                "finalizedAt": {"type": "string", "format": "date-time"}
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
