// Package auth provides authentication and authorization for the console.
//
// # Authentication Methods
//
// The package supports three authentication methods:
//
//   - JWT Tokens: Issued at login and carried as a bearer token. Tokens are
//     signed with HS256 using the configured jwt_secret and carry the user
//     and organization IDs.
//
//   - Session Cookies: Browser sessions backed by server-side session rows.
//     Used by the web console and the WebAuthn flows.
//
//   - API Keys: Machine credentials with an "hx_" prefix. Only the SHA-256
//     hash of the key is stored; the plaintext is shown once at creation.
//
// Users may additionally register passkeys (WebAuthn) for passwordless
// login, which ends in a session cookie like password login does.
//
// # Organization Scoping
//
// Every authenticated identity belongs to exactly one organization. The
// middleware resolves the identity, attaches an AuthContext to the request
// context, and handlers scope all queries by AuthContext.OrgID. Resources
// in other organizations are indistinguishable from missing ones.
//
// # Roles
//
// Users carry a single role: owner, admin, or member. RequireRole gates
// mutating endpoints; API keys act with member-level access.
package auth
