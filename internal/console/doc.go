// Package console serves the administration API: organizations, users,
// content pages, integrations, webhooks, audit, workflows, diamond facets,
// and the chain proxy mount.
//
// All org-scoped routes live under /api/orgs/{org} and are bound to the
// authenticated caller's organization; requests naming any other org answer
// 404. Mutating handlers append audit entries best effort and publish typed
// events on the webhook bus, which fans out to webhook deliveries and
// workflow runs.
package console
