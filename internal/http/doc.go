// Package httpapp provides the HTTP and websocket server for threadly.
//
//	@title						Threadly API
//	@version					1.0
//	@description				Communities, posts, comments and votes with live updates.
//	@description
//	@description				## Authentication
//	@description
//	@description				Writes require a bearer token. Request a challenge, sign it with your
//	@description				private key and either register a display name or verify an existing key.
//	@description				```bash
//	@description				curl -X POST /api/auth/challenge -d '{"alg":"ed25519"}'
//	@description				curl -X POST /api/auth/verify -d '{"alg":"ed25519","publicKey":"...","challenge":"...","signature":"..."}'
//	@description				# Returns: {"token": "TOKEN", "expiresAt": "...", "user": {...}}
//	@description				```
//	@description
//	@description				## Live updates
//	@description				`/api/live/communities/{id}` and `/api/live/votes` upgrade to a websocket
//	@description				and push a frame whenever the watched posts or votes change.
//
//	@contact.name				threadly
//	@license.name				MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token from /api/auth/verify or /api/auth/register
//
//	@tag.name					Communities
//	@tag.description			Create, join and leave communities.
//
//	@tag.name					Posts
//	@tag.description			The home feed, community listings and single posts.
//
//	@tag.name					Comments
//	@tag.description			Flat comment lists on posts, newest first.
//
//	@tag.name					Votes
//	@tag.description			One vote per user per post. Repeating a vote removes it.
//
//	@tag.name					Authentication
//	@tag.description			Challenge-response sign in with ed25519, secp256k1 or RSA keys.
//
//	@tag.name					Live
//	@tag.description			Websocket streams of community posts and the caller's votes.
package httpapp
