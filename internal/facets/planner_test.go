// ABOUTME: Tests for cut planning against replayed installation history
// ABOUTME: Covers state replay and per-action validation rules

package facets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer/console/internal/store"
)

func testFacet(id string) *store.Facet {
	return &store.Facet{
		ID:              id,
		Name:            "ERC20Facet",
		ContractAddress: testFacetAddr,
		Functions:       []string{"balanceOf(address)", "transfer(address,uint256)"},
		Selectors:       []string{"0x70a08231", "0xa9059cbb"},
	}
}

func TestReplayState(t *testing.T) {
	installs := []*store.FacetInstallation{
		{FacetID: "f1", Action: store.CutAdd, Selectors: []string{"0x70a08231", "0xa9059cbb"}, Status: store.InstallConfirmed},
		{FacetID: "f2", Action: store.CutReplace, Selectors: []string{"0xa9059cbb"}, Status: store.InstallConfirmed},
		{FacetID: "f1", Action: store.CutRemove, Selectors: []string{"0x70a08231"}, Status: store.InstallConfirmed},
		// Pending and failed cuts don't change the live surface
		{FacetID: "f3", Action: store.CutAdd, Selectors: []string{"0x095ea7b3"}, Status: store.InstallPending},
		{FacetID: "f3", Action: store.CutAdd, Selectors: []string{"0xdd62ed3e"}, Status: store.InstallFailed},
	}

	state := ReplayState(installs)
	assert.Equal(t, DiamondState{"0xa9059cbb": "f2"}, state)
}

func TestPlanCut_Add(t *testing.T) {
	facet := testFacet("f1")

	cut, err := PlanCut(DiamondState{}, facet, store.CutAdd, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, cut.Action)
	assert.Equal(t, testFacetAddr, cut.FacetAddress)
	assert.Equal(t, facet.Selectors, cut.Selectors)
}

func TestPlanCut_AddConflicts(t *testing.T) {
	facet := testFacet("f1")
	state := DiamondState{"0x70a08231": "other"}

	_, err := PlanCut(state, facet, store.CutAdd, nil)
	assert.ErrorIs(t, err, ErrSelectorExists)
}

func TestPlanCut_Replace(t *testing.T) {
	facet := testFacet("f2")
	state := DiamondState{"0x70a08231": "f1", "0xa9059cbb": "f1"}

	cut, err := PlanCut(state, facet, store.CutReplace, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionReplace, cut.Action)
}

func TestPlanCut_ReplaceMissing(t *testing.T) {
	facet := testFacet("f2")

	_, err := PlanCut(DiamondState{}, facet, store.CutReplace, nil)
	assert.ErrorIs(t, err, ErrSelectorMissing)
}

func TestPlanCut_ReplaceSameFacet(t *testing.T) {
	facet := testFacet("f1")
	state := DiamondState{"0x70a08231": "f1", "0xa9059cbb": "f1"}

	_, err := PlanCut(state, facet, store.CutReplace, nil)
	assert.Error(t, err)
}

func TestPlanCut_Remove(t *testing.T) {
	facet := testFacet("f1")
	state := DiamondState{"0x70a08231": "f1", "0xa9059cbb": "f1"}

	cut, err := PlanCut(state, facet, store.CutRemove, []string{"0x70a08231"})
	require.NoError(t, err)
	assert.Equal(t, ActionRemove, cut.Action)
	assert.Equal(t, ZeroAddress, cut.FacetAddress)
	assert.Equal(t, []string{"0x70a08231"}, cut.Selectors)
}

func TestPlanCut_RemoveMissing(t *testing.T) {
	facet := testFacet("f1")

	_, err := PlanCut(DiamondState{}, facet, store.CutRemove, nil)
	assert.ErrorIs(t, err, ErrSelectorMissing)
}

func TestPlanCut_SelectorOutsideFacet(t *testing.T) {
	facet := testFacet("f1")

	_, err := PlanCut(DiamondState{}, facet, store.CutAdd, []string{"0xdeadbeef"})
	assert.Error(t, err)
}
