// ABOUTME: Tests for signature normalization and selector derivation
// ABOUTME: Checks known selector values from widely deployed contracts

package facets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSignature(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"balanceOf(address)", "balanceOf(address)"},
		{"balanceOf(address owner)", "balanceOf(address)"},
		{"  transfer( address to , uint256 amount ) ", "transfer(address,uint256)"},
		{"name()", "name()"},
		{"diamondCut((address,uint8,bytes4[])[],address,bytes)", "diamondCut((address,uint8,bytes4[])[],address,bytes)"},
	}

	for _, tt := range tests {
		got, err := NormalizeSignature(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeSignature_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "noparens", "(address)", "transfer(address", "two words(address)"} {
		_, err := NormalizeSignature(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestSelector_KnownValues(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"balanceOf(address)", "0x70a08231"},
		{"transfer(address,uint256)", "0xa9059cbb"},
		{"diamondCut((address,uint8,bytes4[])[],address,bytes)", "0x1f931c1c"},
	}

	for _, tt := range tests {
		got, err := Selector(tt.sig)
		require.NoError(t, err, tt.sig)
		assert.Equal(t, tt.want, got, tt.sig)
	}
}

func TestSelector_NormalizesFirst(t *testing.T) {
	got, err := Selector("balanceOf(address owner)")
	require.NoError(t, err)
	assert.Equal(t, "0x70a08231", got)
}

func TestSelectors(t *testing.T) {
	normalized, selectors, err := Selectors([]string{
		"balanceOf(address owner)",
		"transfer(address to, uint256 amount)",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"balanceOf(address)", "transfer(address,uint256)"}, normalized)
	assert.Equal(t, []string{"0x70a08231", "0xa9059cbb"}, selectors)
}

func TestSelectors_DuplicateAfterNormalization(t *testing.T) {
	_, _, err := Selectors([]string{
		"balanceOf(address owner)",
		"balanceOf(address account)",
	})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
