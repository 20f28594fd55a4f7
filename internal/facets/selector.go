// ABOUTME: Function selector derivation for facet registration
// ABOUTME: Normalizes signatures and takes the first four bytes of keccak256

package facets

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Signature errors
var (
	ErrEmptySignature   = errors.New("empty function signature")
	ErrInvalidSignature = errors.New("invalid function signature")
)

// NormalizeSignature canonicalizes a human-written function signature:
// whitespace is stripped and parameter names dropped, so
// "balanceOf(address owner)" becomes "balanceOf(address)".
func NormalizeSignature(sig string) (string, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return "", ErrEmptySignature
	}

	open := strings.Index(sig, "(")
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
	}

	name := strings.TrimSpace(sig[:open])
	if strings.ContainsAny(name, " \t") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
	}

	params := sig[open+1 : len(sig)-1]
	if strings.TrimSpace(params) == "" {
		return name + "()", nil
	}

	parts := splitParams(params)
	types := make([]string, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
		}
		types[i] = paramType(p)
	}

	return name + "(" + strings.Join(types, ",") + ")", nil
}

// splitParams splits a parameter list on commas outside parentheses,
// so tuple types survive intact.
func splitParams(params string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range params {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, params[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, params[start:])
}

// paramType strips a trailing parameter name from "type name" declarations.
// Tuples and bare types pass through unchanged.
func paramType(p string) string {
	if strings.HasPrefix(p, "(") {
		return strings.Join(strings.Fields(p), "")
	}
	fields := strings.Fields(p)
	if len(fields) <= 1 {
		return p
	}
	// Drop the name; keep array suffixes attached to the type
	return fields[0]
}

// Selector derives the 4-byte function selector for a signature,
// returned as 0x-prefixed hex. The signature is normalized first.
func Selector(sig string) (string, error) {
	canonical, err := NormalizeSignature(sig)
	if err != nil {
		return "", err
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(canonical))
	sum := h.Sum(nil)
	return fmt.Sprintf("0x%x", sum[:4]), nil
}

// Selectors derives selectors for a list of signatures, preserving order.
// Returns the normalized signatures alongside the selectors.
func Selectors(sigs []string) (normalized, selectors []string, err error) {
	normalized = make([]string, len(sigs))
	selectors = make([]string, len(sigs))
	seen := make(map[string]string, len(sigs))

	for i, sig := range sigs {
		canonical, err := NormalizeSignature(sig)
		if err != nil {
			return nil, nil, err
		}
		if prior, dup := seen[canonical]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate of %q", ErrInvalidSignature, prior)
		}
		seen[canonical] = sig

		sel, err := Selector(canonical)
		if err != nil {
			return nil, nil, err
		}
		normalized[i] = canonical
		selectors[i] = sel
	}
	return normalized, selectors, nil
}
