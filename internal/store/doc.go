// Package store contains the persistence layer for hexlayer-console.
//
// All console state lives in a single SQLite database: organizations and
// their users, sessions and invites, marketing content pages, integration
// records (OAuth apps, API keys, webhooks), the audit log, workflow
// definitions and runs, the diamond facet registry, and chain proxy usage
// metering.
//
// Entity types and their store methods are grouped per file (orgs.go,
// users.go, content.go, ...). SQLiteStore implements every sub-interface;
// callers depend on the narrow interface for the entities they touch.
//
// Timestamps are stored as RFC3339 text in UTC. Lookups for missing rows
// return ErrNotFound; unique-index violations surface as ErrDuplicate.
package store
