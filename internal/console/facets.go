// ABOUTME: Facet registry and diamond cut handlers
// ABOUTME: Cuts are planned against replayed installation history before encoding

package console

import (
	"errors"
	"net/http"
	"time"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/facets"
	"github.com/hexlayer/console/internal/store"
)

type apiFacet struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	Name            string    `json:"name"`
	ContractAddress string    `json:"contract_address"`
	Functions       []string  `json:"functions"`
	Selectors       []string  `json:"selectors"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAPIFacet(f *store.Facet) *apiFacet {
	return &apiFacet{
		ID:              f.ID,
		OrgID:           f.OrgID,
		Name:            f.Name,
		ContractAddress: f.ContractAddress,
		Functions:       f.Functions,
		Selectors:       f.Selectors,
		Version:         f.Version,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

func (s *Server) handleListFacets(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListFacets(r.Context(), r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiFacet, len(list))
	for i, f := range list {
		out[i] = toAPIFacet(f)
	}
	writeJSON(w, http.StatusOK, out)
}

type createFacetRequest struct {
	Name            string   `json:"name"`
	ContractAddress string   `json:"contract_address"`
	Functions       []string `json:"functions"`
}

func (s *Server) handleCreateFacet(w http.ResponseWriter, r *http.Request) {
	var req createFacetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.ContractAddress == "" {
		writeError(w, http.StatusBadRequest, "name and contract_address are required")
		return
	}

	normalized, selectors, err := facets.Selectors(req.Functions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	facet := &store.Facet{
		OrgID:           authCtx.OrgID,
		Name:            req.Name,
		ContractAddress: req.ContractAddress,
		Functions:       normalized,
		Selectors:       selectors,
	}
	if err := s.store.CreateFacet(ctx, facet); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditCreateFacet, "facet", facet.ID, map[string]any{"name": facet.Name})
	writeJSON(w, http.StatusCreated, toAPIFacet(facet))
}

// getOrgFacet loads a facet and hides other orgs' behind 404.
func (s *Server) getOrgFacet(w http.ResponseWriter, r *http.Request) *store.Facet {
	facet, err := s.store.GetFacet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	if facet.OrgID != r.PathValue("org") {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return facet
}

func (s *Server) handleGetFacet(w http.ResponseWriter, r *http.Request) {
	facet := s.getOrgFacet(w, r)
	if facet == nil {
		return
	}
	writeJSON(w, http.StatusOK, toAPIFacet(facet))
}

type updateFacetRequest struct {
	Name            *string  `json:"name,omitempty"`
	ContractAddress *string  `json:"contract_address,omitempty"`
	Functions       []string `json:"functions,omitempty"`
}

func (s *Server) handleUpdateFacet(w http.ResponseWriter, r *http.Request) {
	var req updateFacetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	facet := s.getOrgFacet(w, r)
	if facet == nil {
		return
	}
	ctx := r.Context()

	if req.Name != nil {
		facet.Name = *req.Name
	}
	if req.ContractAddress != nil {
		facet.ContractAddress = *req.ContractAddress
	}
	if req.Functions != nil {
		normalized, selectors, err := facets.Selectors(req.Functions)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		facet.Functions = normalized
		facet.Selectors = selectors
	}

	if err := s.store.UpdateFacet(ctx, facet); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdateFacet, "facet", facet.ID, nil)
	writeJSON(w, http.StatusOK, toAPIFacet(facet))
}

func (s *Server) handleDeleteFacet(w http.ResponseWriter, r *http.Request) {
	facet := s.getOrgFacet(w, r)
	if facet == nil {
		return
	}
	ctx := r.Context()

	if err := s.store.DeleteFacet(ctx, facet.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditDeleteFacet, "facet", facet.ID, map[string]any{"name": facet.Name})
	w.WriteHeader(http.StatusNoContent)
}

type cutRequest struct {
	FacetID   string   `json:"facet_id"`
	Action    string   `json:"action"`
	Selectors []string `json:"selectors,omitempty"` // default: all facet selectors
}

type cutResponse struct {
	Installation *apiInstallation `json:"installation"`
	Calldata     string           `json:"calldata"`
}

// handleCutDiamond plans a cut against the diamond's confirmed history,
// encodes the diamondCut calldata, and records a pending installation. The
// transaction itself is submitted out of band; operators post the tx hash
// back via the installation update route.
func (s *Server) handleCutDiamond(w http.ResponseWriter, r *http.Request) {
	var req cutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FacetID == "" {
		writeError(w, http.StatusBadRequest, "facet_id is required")
		return
	}

	action := store.CutAction(req.Action)
	switch action {
	case store.CutAdd, store.CutReplace, store.CutRemove:
	default:
		writeError(w, http.StatusBadRequest, "action must be add, replace, or remove")
		return
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)
	diamond := r.PathValue("addr")

	facet, err := s.store.GetFacet(ctx, req.FacetID)
	if err != nil || facet.OrgID != authCtx.OrgID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	installs, err := s.store.ListInstallations(ctx, authCtx.OrgID, diamond)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	state := facets.ReplayState(installs)
	cut, err := facets.PlanCut(state, facet, action, req.Selectors)
	if err != nil {
		if errors.Is(err, facets.ErrSelectorExists) || errors.Is(err, facets.ErrSelectorMissing) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	calldata, err := facets.EncodeDiamondCut([]facets.Cut{cut}, facets.ZeroAddress, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	install := &store.FacetInstallation{
		OrgID:          authCtx.OrgID,
		DiamondAddress: diamond,
		FacetID:        facet.ID,
		Action:         action,
		Selectors:      cut.Selectors,
		Calldata:       calldata,
		Status:         store.InstallPending,
	}
	if err := s.store.RecordInstallation(ctx, install); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditCutDiamond, "diamond", diamond, map[string]any{
		"facet_id": facet.ID,
		"action":   string(action),
		"count":    len(cut.Selectors),
	})
	s.publish(ctx, authCtx, "facet.cut", map[string]any{
		"diamond":  diamond,
		"facet_id": facet.ID,
		"action":   string(action),
	})

	writeJSON(w, http.StatusCreated, cutResponse{
		Installation: toAPIInstallation(install),
		Calldata:     calldata,
	})
}

type apiInstallation struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"org_id"`
	DiamondAddress string    `json:"diamond_address"`
	FacetID        string    `json:"facet_id"`
	Action         string    `json:"action"`
	Selectors      []string  `json:"selectors"`
	Calldata       string    `json:"calldata"`
	TxHash         string    `json:"tx_hash,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAPIInstallation(in *store.FacetInstallation) *apiInstallation {
	return &apiInstallation{
		ID:             in.ID,
		OrgID:          in.OrgID,
		DiamondAddress: in.DiamondAddress,
		FacetID:        in.FacetID,
		Action:         string(in.Action),
		Selectors:      in.Selectors,
		Calldata:       in.Calldata,
		TxHash:         in.TxHash,
		Status:         string(in.Status),
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.UpdatedAt,
	}
}

type diamondView struct {
	Address       string              `json:"address"`
	Facets        map[string][]string `json:"facets"` // facet id -> selectors
	Installations []*apiInstallation  `json:"installations"`
}

// handleGetDiamond assembles the loupe view: the selector layout implied by
// confirmed installations, plus the full installation history.
func (s *Server) handleGetDiamond(w http.ResponseWriter, r *http.Request) {
	diamond := r.PathValue("addr")

	installs, err := s.store.ListInstallations(r.Context(), r.PathValue("org"), diamond)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	state := facets.ReplayState(installs)
	byFacet := make(map[string][]string)
	for selector, facetID := range state {
		byFacet[facetID] = append(byFacet[facetID], selector)
	}

	history := make([]*apiInstallation, len(installs))
	for i, in := range installs {
		history[i] = toAPIInstallation(in)
	}

	writeJSON(w, http.StatusOK, diamondView{
		Address:       diamond,
		Facets:        byFacet,
		Installations: history,
	})
}

type updateInstallationRequest struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash,omitempty"`
}

func (s *Server) handleUpdateInstallation(w http.ResponseWriter, r *http.Request) {
	var req updateInstallationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status := store.InstallStatus(req.Status)
	switch status {
	case store.InstallPending, store.InstallSubmitted, store.InstallConfirmed, store.InstallFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	// Scope check: the installation must belong to this org and diamond
	installs, err := s.store.ListInstallations(ctx, r.PathValue("org"), r.PathValue("addr"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var target *store.FacetInstallation
	for _, in := range installs {
		if in.ID == id {
			target = in
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.store.UpdateInstallationStatus(ctx, id, status, req.TxHash); err != nil {
		writeStoreError(w, err)
		return
	}

	target.Status = status
	if req.TxHash != "" {
		target.TxHash = req.TxHash
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditCutDiamond, "installation", id, map[string]any{"status": string(status)})
	writeJSON(w, http.StatusOK, toAPIInstallation(target))
}
