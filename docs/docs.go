// Package docs 注册 Swagger 文档，路由 /swagger/index.html。
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/domains": {
            "get": {"tags": ["域名"], "summary": "列出可用域名", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Response"}}}}
        },
        "/emails/create": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["邮箱"], "summary": "创建临时地址",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAddressRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Response"}}, "400": {"description": "参数错误"}, "409": {"description": "地址已被占用"}, "503": {"description": "随机地址生成失败"}}
            }
        },
        "/emails": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["邮箱"], "summary": "列出我的地址", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Response"}}}}
        },
        "/emails/{id}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["邮箱"], "summary": "获取地址", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在或已过期"}}}
        },
        "/emails/delete/{id}": {
            "delete": {"security": [{"BearerAuth": []}], "tags": ["邮箱"], "summary": "删除地址", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在"}}}
        },
        "/emails/{id}/received": {
            "get": {
                "security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "列出邮件",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "name": "includeArchived", "in": "query"},
                    {"type": "boolean", "name": "includeSpam", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "地址不存在"}}
            }
        },
        "/emails/{id}/received/bulk/{action}": {
            "post": {
                "security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "批量操作",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "enum": ["delete", "archive", "spam"], "name": "action", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/BulkRequest"}}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/emails/{id}/received/{msgId}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "获取邮件", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "msgId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在"}}},
            "delete": {"security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "删除邮件", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "msgId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在"}}}
        },
        "/emails/{id}/received/{msgId}/attachments/{attId}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "下载附件", "produces": ["application/octet-stream"], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "msgId", "in": "path", "required": true}, {"type": "string", "name": "attId", "in": "path", "required": true}], "responses": {"200": {"description": "附件内容"}, "404": {"description": "不存在"}}}
        },
        "/emails/{id}/received/{msgId}/star": {
            "patch": {"security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "设置星标", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "msgId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在"}}}
        },
        "/emails/{id}/received/{msgId}/archive": {
            "patch": {"security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "设置归档", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "msgId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在"}}}
        },
        "/emails/{id}/received/{msgId}/spam": {
            "patch": {"security": [{"BearerAuth": []}], "tags": ["邮件"], "summary": "设置垃圾邮件", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "msgId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在"}}}
        },
        "/messages": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["公告"], "summary": "未关闭的公告", "responses": {"200": {"description": "OK"}}}
        },
        "/messages/{id}/dismiss": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["公告"], "summary": "关闭公告", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "不存在"}}}
        }
    },
    "definitions": {
        "Response": {
            "type": "object",
            "properties": {"code": {"type": "integer"}, "msg": {"type": "string"}, "data": {}}
        },
        "CreateAddressRequest": {
            "type": "object",
            "required": ["domainId"],
            "properties": {"email": {"type": "string"}, "domainId": {"type": "string"}}
        },
        "BulkRequest": {
            "type": "object",
            "properties": {"emailIds": {"type": "array", "items": {"type": "string"}}}
        }
    }
}`

// SwaggerInfo 文档元信息
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "TempMail Engine API",
	Description:      "临时邮箱地址、邮件与公告接口",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
