// Package docs registers the threadly OpenAPI document with swag. The
// document mirrors the annotations in internal/http; regenerate it with
// `swag init -g internal/http/doc.go` after changing a route.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "threadly"
        },
        "license": {
            "name": "MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/auth/challenge": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Request a challenge",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/challengeRequest"}}
                ],
                "responses": {
                    "200": {"description": "Challenge to sign", "schema": {"$ref": "#/definitions/model.Challenge"}},
                    "400": {"description": "Unsupported algorithm", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/auth/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register a display name and key",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/registerRequest"}}
                ],
                "responses": {
                    "201": {"description": "Registered and signed in", "schema": {"$ref": "#/definitions/tokenResponse"}},
                    "400": {"description": "Invalid proof", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "409": {"description": "Name or key taken", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/auth/verify": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Exchange a signed challenge for a token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/auth.Proof"}}
                ],
                "responses": {
                    "200": {"description": "Signed in", "schema": {"$ref": "#/definitions/tokenResponse"}},
                    "401": {"description": "Bad signature or unknown key", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Accounts"],
                "summary": "Get the signed-in user",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "User and key id", "schema": {"type": "object"}},
                    "401": {"description": "Not signed in", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/me/keys/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Accounts"],
                "summary": "Revoke one of your keys",
                "parameters": [
                    {"type": "string", "description": "Key ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Revoked", "schema": {"type": "object"}},
                    "404": {"description": "Key not found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/state": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Session"],
                "summary": "Get the session state",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Session state", "schema": {"type": "object"}}
                }
            }
        },
        "/api/feed": {
            "get": {
                "tags": ["Posts"],
                "summary": "Get the home feed",
                "description": "Posts from joined communities, or the global top posts for signed-out users and users with no memberships.",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Posts and the caller's votes on them", "schema": {"$ref": "#/definitions/postsResponse"}}
                }
            }
        },
        "/api/snippets": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Communities"],
                "summary": "List your community memberships",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Community snippets", "schema": {"type": "object"}}
                }
            }
        },
        "/api/communities": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Communities"],
                "summary": "Create a community",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/communityRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.Community"}},
                    "400": {"description": "Invalid name", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "409": {"description": "Name taken", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/communities/{id}": {
            "get": {
                "tags": ["Communities"],
                "summary": "Get a community",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Community name", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Community and membership", "schema": {"type": "object"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/communities/{id}/posts": {
            "get": {
                "tags": ["Posts"],
                "summary": "List a community's posts",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Community name", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Posts, newest first", "schema": {"$ref": "#/definitions/postsResponse"}}
                }
            }
        },
        "/api/communities/{id}/join": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Communities"],
                "summary": "Join a community",
                "parameters": [
                    {"type": "string", "description": "Community name", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Joined", "schema": {"type": "object"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/communities/{id}/leave": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Communities"],
                "summary": "Leave a community",
                "parameters": [
                    {"type": "string", "description": "Community name", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Left", "schema": {"type": "object"}}
                }
            }
        },
        "/api/posts": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Posts"],
                "summary": "Create a post",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/interact.NewPost"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.Post"}},
                    "400": {"description": "Invalid post", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/posts/{id}": {
            "get": {
                "tags": ["Posts"],
                "summary": "Get a post",
                "description": "Signed-in callers also get their vote on the post.",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Post ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Post and vote", "schema": {"type": "object"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Posts"],
                "summary": "Delete your post",
                "parameters": [
                    {"type": "string", "description": "Post ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Deleted", "schema": {"type": "object"}},
                    "403": {"description": "Not the author", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/posts/{id}/comments": {
            "get": {
                "tags": ["Comments"],
                "summary": "List a post's comments",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Post ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Comments, newest first", "schema": {"type": "object"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Comments"],
                "summary": "Comment on a post",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Post ID", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/commentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.Comment"}},
                    "404": {"description": "Post not found", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/posts/{id}/vote": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Votes"],
                "summary": "Vote on a post",
                "description": "Repeating your current vote removes it; voting the other way flips it.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Post ID", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/voteRequest"}}
                ],
                "responses": {
                    "200": {"description": "Vote result", "schema": {"$ref": "#/definitions/voteResponse"}},
                    "400": {"description": "Value must be 1 or -1", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/comments/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Comments"],
                "summary": "Delete your comment",
                "parameters": [
                    {"type": "string", "description": "Comment ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Deleted", "schema": {"type": "object"}},
                    "403": {"description": "Not the author", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/api/votes": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Votes"],
                "summary": "Get your votes on posts",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Comma separated post IDs", "name": "postIds", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "Votes", "schema": {"type": "object"}}
                }
            }
        },
        "/api/live/communities/{id}": {
            "get": {
                "tags": ["Live"],
                "summary": "Stream a community's posts over a websocket",
                "parameters": [
                    {"type": "string", "description": "Community name", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "101": {"description": "Switching protocols"}
                }
            }
        },
        "/api/live/votes": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Live"],
                "summary": "Stream your votes on posts over a websocket",
                "parameters": [
                    {"type": "string", "description": "Comma separated post IDs", "name": "postIds", "in": "query", "required": true}
                ],
                "responses": {
                    "101": {"description": "Switching protocols"}
                }
            }
        }
    },
    "definitions": {
        "errorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "challengeRequest": {
            "type": "object",
            "properties": {"alg": {"type": "string", "enum": ["ed25519", "secp256k1", "rsa-sha256"]}}
        },
        "auth.Proof": {
            "type": "object",
            "properties": {
                "alg": {"type": "string"},
                "publicKey": {"type": "string"},
                "challenge": {"type": "string"},
                "signature": {"type": "string"}
            }
        },
        "registerRequest": {
            "type": "object",
            "properties": {
                "displayName": {"type": "string"},
                "alg": {"type": "string"},
                "publicKey": {"type": "string"},
                "challenge": {"type": "string"},
                "signature": {"type": "string"}
            }
        },
        "tokenResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "expiresAt": {"type": "string"},
                "user": {"$ref": "#/definitions/model.User"}
            }
        },
        "communityRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "privacyType": {"type": "string", "enum": ["public", "restricted", "private"]}
            }
        },
        "commentRequest": {
            "type": "object",
            "properties": {"text": {"type": "string"}}
        },
        "voteRequest": {
            "type": "object",
            "properties": {"value": {"type": "integer", "enum": [1, -1]}}
        },
        "voteResponse": {
            "type": "object",
            "properties": {
                "voteValue": {"type": "integer"},
                "delta": {"type": "integer"},
                "voteStatus": {"type": "integer"}
            }
        },
        "postsResponse": {
            "type": "object",
            "properties": {
                "posts": {"type": "array", "items": {"$ref": "#/definitions/model.Post"}},
                "postVotes": {"type": "array", "items": {"$ref": "#/definitions/model.PostVote"}}
            }
        },
        "interact.NewPost": {
            "type": "object",
            "properties": {
                "communityId": {"type": "string"},
                "title": {"type": "string"},
                "body": {"type": "string"},
                "imageURL": {"type": "string"}
            }
        },
        "model.User": {
            "type": "object",
            "properties": {
                "uid": {"type": "string"},
                "displayName": {"type": "string"}
            }
        },
        "model.Challenge": {
            "type": "object",
            "properties": {
                "challenge": {"type": "string"},
                "alg": {"type": "string"},
                "expiresAt": {"type": "string"}
            }
        },
        "model.Community": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "creatorId": {"type": "string"},
                "numberOfMembers": {"type": "integer"},
                "privacyType": {"type": "string"},
                "imageURL": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "model.Post": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "communityId": {"type": "string"},
                "creatorId": {"type": "string"},
                "creatorDisplayName": {"type": "string"},
                "title": {"type": "string"},
                "body": {"type": "string"},
                "numberOfComments": {"type": "integer"},
                "voteStatus": {"type": "integer"},
                "imageURL": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "model.PostVote": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "postId": {"type": "string"},
                "communityId": {"type": "string"},
                "voteValue": {"type": "integer"}
            }
        },
        "model.Comment": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "postId": {"type": "string"},
                "creatorId": {"type": "string"},
                "creatorDisplayName": {"type": "string"},
                "communityId": {"type": "string"},
                "postTitle": {"type": "string"},
                "text": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Bearer token from /api/auth/verify or /api/auth/register",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Threadly API",
	Description:      "Communities, posts, comments and votes with live updates.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
