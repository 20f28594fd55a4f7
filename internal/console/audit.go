// ABOUTME: Audit log listing and report handlers
// ABOUTME: Reports aggregate audit activity, chain usage, and webhook health

package console

import (
	"net/http"
	"time"

	"github.com/hexlayer/console/internal/store"
)

type apiAuditEntry struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	ActorUserID string         `json:"actor_user_id"`
	Action      string         `json:"action"`
	TargetType  string         `json:"target_type"`
	TargetID    string         `json:"target_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Detail      map[string]any `json:"detail,omitempty"`
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{Limit: queryInt(r, "limit", 0)}

	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Since = since
	filter.Until = until

	if raw := r.URL.Query().Get("action"); raw != "" {
		action := store.AuditAction(raw)
		filter.Action = &action
	}
	if raw := r.URL.Query().Get("actor"); raw != "" {
		filter.ActorUserID = &raw
	}
	if raw := r.URL.Query().Get("target_type"); raw != "" {
		filter.TargetType = &raw
	}
	if raw := r.URL.Query().Get("target_id"); raw != "" {
		filter.TargetID = &raw
	}

	entries, err := s.store.ListAuditLog(r.Context(), r.PathValue("org"), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiAuditEntry, len(entries))
	for i, e := range entries {
		out[i] = &apiAuditEntry{
			ID:          e.ID,
			OrgID:       e.OrgID,
			ActorUserID: e.ActorUserID,
			Action:      string(e.Action),
			TargetType:  e.TargetType,
			TargetID:    e.TargetID,
			Timestamp:   e.Timestamp,
			Detail:      e.Detail,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// reportWindow resolves the since/until query params with a default span.
func reportWindow(r *http.Request, def time.Duration) (time.Time, time.Time, error) {
	until := time.Now().UTC()
	since := until.Add(-def)

	if t, err := queryTime(r, "since"); err != nil {
		return since, until, err
	} else if t != nil {
		since = *t
	}
	if t, err := queryTime(r, "until"); err != nil {
		return since, until, err
	} else if t != nil {
		until = *t
	}
	return since, until, nil
}

type activityReport struct {
	Since   time.Time              `json:"since"`
	Until   time.Time              `json:"until"`
	Buckets []store.ActivityBucket `json:"buckets"`
}

func (s *Server) handleActivityReport(w http.ResponseWriter, r *http.Request) {
	since, until, err := reportWindow(r, 30*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	buckets, err := s.store.AuditActivity(r.Context(), r.PathValue("org"), since, until)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activityReport{Since: since, Until: until, Buckets: buckets})
}

type chainUsageReport struct {
	Since        time.Time        `json:"since"`
	Until        time.Time        `json:"until"`
	RequestCount int64            `json:"request_count"`
	ErrorCount   int64            `json:"error_count"`
	ErrorRate    float64          `json:"error_rate"`
	ByMethod     map[string]int64 `json:"by_method"`
}

func (s *Server) handleChainUsageReport(w http.ResponseWriter, r *http.Request) {
	since, until, err := reportWindow(r, 30*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.store.GetChainUsageStats(r.Context(), r.PathValue("org"), store.UsageFilter{Since: &since, Until: &until})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	report := chainUsageReport{
		Since:        since,
		Until:        until,
		RequestCount: stats.RequestCount,
		ErrorCount:   stats.ErrorCount,
		ByMethod:     stats.ByMethod,
	}
	if stats.RequestCount > 0 {
		report.ErrorRate = float64(stats.ErrorCount) / float64(stats.RequestCount)
	}
	writeJSON(w, http.StatusOK, report)
}

// handleChainUsage returns raw metering stats; the report adds the window
// and error rate on top.
func (s *Server) handleChainUsage(w http.ResponseWriter, r *http.Request) {
	filter := store.UsageFilter{}
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Since = since
	filter.Until = until

	stats, err := s.store.GetChainUsageStats(r.Context(), r.PathValue("org"), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type webhookHealthEntry struct {
	WebhookID   string  `json:"webhook_id"`
	URL         string  `json:"url"`
	Total       int     `json:"total"`
	Delivered   int     `json:"delivered"`
	Failed      int     `json:"failed"`
	FailureRate float64 `json:"failure_rate"`
}

type webhookReport struct {
	Since     time.Time            `json:"since"`
	Endpoints []webhookHealthEntry `json:"endpoints"`
}

func (s *Server) handleWebhookReport(w http.ResponseWriter, r *http.Request) {
	since, _, err := reportWindow(r, 7*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.store.DeliveryStats(r.Context(), r.PathValue("org"), since)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	endpoints := make([]webhookHealthEntry, len(stats))
	for i, h := range stats {
		entry := webhookHealthEntry{
			WebhookID: h.WebhookID,
			URL:       h.URL,
			Total:     h.Total,
			Delivered: h.Delivered,
			Failed:    h.Failed,
		}
		if h.Total > 0 {
			entry.FailureRate = float64(h.Failed) / float64(h.Total)
		}
		endpoints[i] = entry
	}
	writeJSON(w, http.StatusOK, webhookReport{Since: since, Endpoints: endpoints})
}
