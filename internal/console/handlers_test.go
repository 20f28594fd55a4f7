// ABOUTME: Handler tests for pages, integrations, webhooks, workflows, facets
// ABOUTME: Exercises audit side effects, event fan-out, and report aggregation

package console

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer/console/internal/store"
)

func TestPageLifecycle(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	base := "/api/orgs/" + org.Org.ID + "/pages"

	rec := f.do(http.MethodPost, base, org.Token, map[string]string{
		"slug":          "launch",
		"title":         "Launch Day",
		"body_markdown": "# Hello\n\nWe **launched**.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	page := decodeBody[apiPage](t, rec)
	assert.Equal(t, "draft", page.Status)

	rec = f.do(http.MethodPost, base+"/"+page.ID+"/publish", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	published := decodeBody[apiPage](t, rec)
	assert.Equal(t, "published", published.Status)
	assert.NotNil(t, published.PublishedAt)

	rec = f.do(http.MethodGet, base+"/"+page.ID+"/rendered", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rendered := decodeBody[renderedPage](t, rec)
	assert.Contains(t, rendered.HTML, "<h1")
	assert.Contains(t, rendered.HTML, "<strong>launched</strong>")

	rec = f.do(http.MethodPost, base+"/"+page.ID+"/archive", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Archived pages cannot be published directly
	rec = f.do(http.MethodPost, base+"/"+page.ID+"/publish", org.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPageDeleteRequiresAdmin(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	memberToken, _ := f.addUser(org, "member@acme.test", store.RoleMember)
	base := "/api/orgs/" + org.Org.ID + "/pages"

	rec := f.do(http.MethodPost, base, memberToken, map[string]string{
		"slug": "notes", "title": "Notes",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	page := decodeBody[apiPage](t, rec)

	rec = f.do(http.MethodDelete, base+"/"+page.ID, memberToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, base+"/"+page.ID, org.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOAuthAppSecretShownOnce(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	base := "/api/orgs/" + org.Org.ID + "/oauth-apps"

	rec := f.do(http.MethodPost, base, org.Token, map[string]string{"name": "ci-bot"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[map[string]any](t, rec)
	secret, _ := created["client_secret"].(string)
	require.True(t, strings.HasPrefix(secret, "hxsec_"))
	appID, _ := created["id"].(string)

	// Subsequent reads never include the secret
	rec = f.do(http.MethodGet, base+"/"+appID, org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "client_secret")
	assert.NotContains(t, rec.Body.String(), secret)

	rec = f.do(http.MethodPost, base+"/"+appID+"/rotate-secret", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decodeBody[map[string]any](t, rec)
	newSecret, _ := rotated["client_secret"].(string)
	assert.NotEmpty(t, newSecret)
	assert.NotEqual(t, secret, newSecret)
}

func TestAPIKeyAuthenticatesUntilRevoked(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	base := "/api/orgs/" + org.Org.ID + "/api-keys"

	rec := f.do(http.MethodPost, base, org.Token, map[string]string{"name": "deploy"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[map[string]any](t, rec)
	plaintext, _ := created["key"].(string)
	require.True(t, strings.HasPrefix(plaintext, "hx_"))
	keyID, _ := created["id"].(string)

	// The key authenticates as an org member
	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/pages", plaintext, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// But cannot perform admin actions
	rec = f.do(http.MethodPost, base, plaintext, map[string]string{"name": "sneaky"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, base+"/"+keyID, org.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/pages", plaintext, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookTestDelivery(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	base := "/api/orgs/" + org.Org.ID + "/webhooks"
	rec := f.do(http.MethodPost, base, org.Token, map[string]any{"url": endpoint.URL})
	require.Equal(t, http.StatusCreated, rec.Code)
	hook := decodeBody[apiWebhook](t, rec)
	assert.True(t, strings.HasPrefix(hook.Secret, "whsec_"))

	rec = f.do(http.MethodPost, base+"/"+hook.ID+"/test", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, result["delivered"])

	// The ping shows up in delivery history
	rec = f.do(http.MethodGet, base+"/"+hook.ID+"/deliveries", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deliveries := decodeBody[[]*apiDelivery](t, rec)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "ping", deliveries[0].EventType)
	assert.Equal(t, "delivered", deliveries[0].Status)
}

func TestPublishEventReachesWebhook(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	got := make(chan string, 1)
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Hexlayer-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/webhooks", org.Token, map[string]any{
		"url":    endpoint.URL,
		"events": []string{"page.published"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/pages", org.Token, map[string]string{
		"slug": "news", "title": "News",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	page := decodeBody[apiPage](t, rec)

	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/pages/"+page.ID+"/publish", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "page.published", <-got)
}

func TestWorkflowManualTrigger(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	base := "/api/orgs/" + org.Org.ID + "/workflows"

	rec := f.do(http.MethodPost, base, org.Token, map[string]any{
		"name":          "note taker",
		"trigger_event": "deploy.finished",
		"steps":         []map[string]string{{"type": "annotate", "note": "deployed"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wf := decodeBody[apiWorkflow](t, rec)

	rec = f.do(http.MethodPost, base+"/"+wf.ID+"/runs", org.Token, map[string]any{
		"payload": map[string]any{"version": "1.2.3"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decodeBody[apiRun](t, rec)
	assert.Equal(t, "succeeded", run.Status)
	require.Len(t, run.Results, 1)
	assert.Equal(t, "succeeded", run.Results[0].Status)

	rec = f.do(http.MethodGet, base+"/"+wf.ID+"/runs", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[[]*apiRun](t, rec)
	assert.Len(t, runs, 1)
}

func TestWorkflowStepValidation(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/workflows", org.Token, map[string]any{
		"name":          "broken",
		"trigger_event": "x",
		"steps":         []map[string]string{{"type": "webhook"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "webhook_id")
}

func TestFacetCreateDerivesSelectors(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/facets", org.Token, map[string]any{
		"name":             "erc20",
		"contract_address": "0x1111111111111111111111111111111111111111",
		"functions":        []string{"balanceOf(address owner)", "transfer(address to, uint256 amount)"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	facet := decodeBody[apiFacet](t, rec)

	assert.Equal(t, []string{"balanceOf(address)", "transfer(address,uint256)"}, facet.Functions)
	assert.Equal(t, []string{"0x70a08231", "0xa9059cbb"}, facet.Selectors)

	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/facets", org.Token, map[string]any{
		"name":             "bad",
		"contract_address": "0x1111111111111111111111111111111111111111",
		"functions":        []string{"not a signature"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiamondCutFlow(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	diamond := "0x2222222222222222222222222222222222222222"

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/facets", org.Token, map[string]any{
		"name":             "erc20",
		"contract_address": "0x1111111111111111111111111111111111111111",
		"functions":        []string{"balanceOf(address)", "transfer(address,uint256)"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	facet := decodeBody[apiFacet](t, rec)

	cutPath := "/api/orgs/" + org.Org.ID + "/diamonds/" + diamond + "/cut"
	rec = f.do(http.MethodPost, cutPath, org.Token, map[string]any{
		"facet_id": facet.ID,
		"action":   "add",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cut := decodeBody[cutResponse](t, rec)
	assert.True(t, strings.HasPrefix(cut.Calldata, "0x1f931c1c"), "diamondCut selector prefix")
	assert.Equal(t, "pending", cut.Installation.Status)
	assert.Len(t, cut.Installation.Selectors, 2)

	// Confirm the installation with a tx hash
	patchPath := "/api/orgs/" + org.Org.ID + "/diamonds/" + diamond + "/installations/" + cut.Installation.ID
	rec = f.do(http.MethodPatch, patchPath, org.Token, map[string]string{
		"status":  "confirmed",
		"tx_hash": "0xabc",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decodeBody[apiInstallation](t, rec)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Equal(t, "0xabc", confirmed.TxHash)

	// Adding an already-installed selector is rejected
	rec = f.do(http.MethodPost, cutPath, org.Token, map[string]any{
		"facet_id": facet.ID,
		"action":   "add",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Loupe view reflects the confirmed cut
	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/diamonds/"+diamond, org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[diamondView](t, rec)
	selectors := view.Facets[facet.ID]
	assert.ElementsMatch(t, []string{"0x70a08231", "0xa9059cbb"}, selectors)
	assert.Len(t, view.Installations, 1)
}

func TestPendingCutDoesNotChangeLoupe(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	diamond := "0x3333333333333333333333333333333333333333"

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/facets", org.Token, map[string]any{
		"name":             "views",
		"contract_address": "0x1111111111111111111111111111111111111111",
		"functions":        []string{"totalSupply()"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	facet := decodeBody[apiFacet](t, rec)

	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/diamonds/"+diamond+"/cut", org.Token, map[string]any{
		"facet_id": facet.ID,
		"action":   "add",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/diamonds/"+diamond, org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[diamondView](t, rec)
	assert.Empty(t, view.Facets)
	assert.Len(t, view.Installations, 1)
}

func TestAuditListAndActivityReport(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	// Signup already audited org and user creation; add a page for more
	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/pages", org.Token, map[string]string{
		"slug": "p", "title": "P",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/audit", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]*apiAuditEntry](t, rec)
	require.NotEmpty(t, entries)
	assert.Equal(t, "create_page", entries[0].Action) // newest first

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/audit?action=create_page", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	filtered := decodeBody[[]*apiAuditEntry](t, rec)
	require.Len(t, filtered, 1)

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/reports/activity", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[activityReport](t, rec)
	require.Len(t, report.Buckets, 1)
	assert.GreaterOrEqual(t, report.Buckets[0].Count, 3)
}

func TestChainUsageReport(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	ctx := context.Background()

	for _, u := range []store.ChainUsage{
		{OrgID: org.Org.ID, Method: "eth_call", Success: true, LatencyMS: 12},
		{OrgID: org.Org.ID, Method: "eth_call", Success: false, LatencyMS: 40},
		{OrgID: org.Org.ID, Method: "eth_blockNumber", Success: true, LatencyMS: 3},
	} {
		require.NoError(t, f.store.SaveChainUsage(ctx, &u))
	}

	rec := f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/reports/chain-usage", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[chainUsageReport](t, rec)
	assert.Equal(t, int64(3), report.RequestCount)
	assert.Equal(t, int64(1), report.ErrorCount)
	assert.InDelta(t, 1.0/3.0, report.ErrorRate, 1e-9)
	assert.Equal(t, int64(2), report.ByMethod["eth_call"])

	// Raw usage endpoint returns the same aggregates
	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/chain/usage", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[store.UsageStats](t, rec)
	assert.Equal(t, int64(3), stats.RequestCount)
}

func TestWebhookHealthReport(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer endpoint.Close()

	base := "/api/orgs/" + org.Org.ID + "/webhooks"
	rec := f.do(http.MethodPost, base, org.Token, map[string]any{"url": endpoint.URL})
	require.Equal(t, http.StatusCreated, rec.Code)
	hook := decodeBody[apiWebhook](t, rec)

	rec = f.do(http.MethodPost, base+"/"+hook.ID+"/test", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[map[string]any](t, rec)
	assert.Equal(t, false, result["delivered"])

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/reports/webhooks", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[webhookReport](t, rec)
	require.Len(t, report.Endpoints, 1)
	assert.Equal(t, 1, report.Endpoints[0].Failed)
	assert.InDelta(t, 1.0, report.Endpoints[0].FailureRate, 1e-9)
}

func TestChainRPCUnconfigured(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/chain/rpc", org.Token, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "eth_blockNumber",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
