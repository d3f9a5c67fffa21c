package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Bayzat Attendance Sync API",
        "description": "Batch-oriented synchronization of attendance records to Bayzat",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Sync", "description": "Sync batch dispatch and inspection"}
    ],
    "paths": {
        "/companies/{id}/sync": {
            "post": {
                "tags": ["Sync"],
                "summary": "Trigger a sync batch for a company",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Batch accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Company settings not found"},
                    "409": {"description": "Sync disabled for company"}
                }
            }
        },
        "/sync/retries": {
            "post": {
                "tags": ["Sync"],
                "summary": "Resubmit failed records for retry",
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/RetryRequest"}}
                ],
                "responses": {
                    "202": {"description": "Sweep executed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/batches/{id}": {
            "get": {
                "tags": ["Sync"],
                "summary": "Get a sync batch",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Batch detail", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Batch not found"}
                }
            }
        },
        "/companies/{id}/batches": {
            "get": {
                "tags": ["Sync"],
                "summary": "List a company's sync batches",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Batch list", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/companies/{id}/records": {
            "get": {
                "tags": ["Sync"],
                "summary": "List a company's attendance records with sync state",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Record list", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "RetryRequest": {
            "type": "object",
            "properties": {
                "company_id": {"type": "string"},
                "limit": {"type": "integer"}
            }
        },
        "Batch": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "company_id": {"type": "string"},
                "total_records": {"type": "integer"},
                "synced_records": {"type": "integer"},
                "failed_records": {"type": "integer"},
                "retry_only": {"type": "boolean"},
                "status": {"type": "string", "enum": ["pending", "in_progress", "completed", "failed"]},
                "failure_reason": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "started_at": {"type": "string", "format": "date-time"},
                "completed_at": {"type": "string", "format": "date-time"},
                "failed_at": {"type": "string", "format": "date-time"}
            }
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
