// ABOUTME: Cut planning and validation against a diamond's installation history
// ABOUTME: Replays confirmed cuts to derive the live selector-to-facet mapping

package facets

import (
	"errors"
	"fmt"

	"github.com/hexlayer/console/internal/store"
)

// Planning errors
var (
	ErrSelectorExists  = errors.New("selector already installed")
	ErrSelectorMissing = errors.New("selector not installed")
)

// DiamondState is the live selector surface of a diamond, mapping each
// installed selector to the facet it routes to.
type DiamondState map[string]string

// ReplayState folds a diamond's installation history, oldest first, into
// its current selector mapping. Only confirmed installations count.
func ReplayState(installs []*store.FacetInstallation) DiamondState {
	state := make(DiamondState)
	for _, ins := range installs {
		if ins.Status != store.InstallConfirmed {
			continue
		}
		switch ins.Action {
		case store.CutAdd, store.CutReplace:
			for _, sel := range ins.Selectors {
				state[sel] = ins.FacetID
			}
		case store.CutRemove:
			for _, sel := range ins.Selectors {
				delete(state, sel)
			}
		}
	}
	return state
}

// PlanCut validates a proposed cut against the diamond state and returns
// the encodable Cut. Add requires selectors to be absent, replace and
// remove require them present; replace additionally rejects re-pointing
// a selector at the facet it already routes to.
func PlanCut(state DiamondState, facet *store.Facet, action store.CutAction, selectors []string) (Cut, error) {
	if len(selectors) == 0 {
		selectors = facet.Selectors
	}
	if len(selectors) == 0 {
		return Cut{}, errors.New("facet has no selectors to cut")
	}

	registered := make(map[string]bool, len(facet.Selectors))
	for _, sel := range facet.Selectors {
		registered[sel] = true
	}

	for _, sel := range selectors {
		if !registered[sel] {
			return Cut{}, fmt.Errorf("selector %s is not part of facet %s", sel, facet.Name)
		}

		owner, installed := state[sel]
		switch action {
		case store.CutAdd:
			if installed {
				return Cut{}, fmt.Errorf("%w: %s", ErrSelectorExists, sel)
			}
		case store.CutReplace:
			if !installed {
				return Cut{}, fmt.Errorf("%w: %s", ErrSelectorMissing, sel)
			}
			if owner == facet.ID {
				return Cut{}, fmt.Errorf("selector %s already routes to facet %s", sel, facet.Name)
			}
		case store.CutRemove:
			if !installed {
				return Cut{}, fmt.Errorf("%w: %s", ErrSelectorMissing, sel)
			}
		default:
			return Cut{}, fmt.Errorf("unknown cut action %q", action)
		}
	}

	wireAction, err := ParseAction(string(action))
	if err != nil {
		return Cut{}, err
	}

	address := facet.ContractAddress
	if action == store.CutRemove {
		address = ZeroAddress
	}

	return Cut{
		FacetAddress: address,
		Action:       wireAction,
		Selectors:    selectors,
	}, nil
}
