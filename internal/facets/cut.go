// ABOUTME: ABI encoding of EIP-2535 diamondCut calldata
// ABOUTME: Hand-encodes the single fixed diamondCut signature, no general ABI support

package facets

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Action is a diamond cut facet action as encoded on chain.
type Action uint8

const (
	ActionAdd     Action = 0
	ActionReplace Action = 1
	ActionRemove  Action = 2
)

// ParseAction maps the store's action strings onto wire values.
func ParseAction(s string) (Action, error) {
	switch s {
	case "add":
		return ActionAdd, nil
	case "replace":
		return ActionReplace, nil
	case "remove":
		return ActionRemove, nil
	default:
		return 0, fmt.Errorf("unknown cut action %q", s)
	}
}

// Cut is one entry of a diamondCut call.
type Cut struct {
	FacetAddress string // 0x-prefixed 20-byte hex; zero address for removals
	Action       Action
	Selectors    []string // 0x-prefixed 4-byte hex selectors
}

// ZeroAddress is the facet address used for remove cuts.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// diamondCutSelector is the selector of
// diamondCut((address,uint8,bytes4[])[],address,bytes).
var diamondCutSelector = []byte{0x1f, 0x93, 0x1c, 0x1c}

var errBadAddress = errors.New("invalid address")

// EncodeDiamondCut produces the full calldata for a diamondCut call as
// 0x-prefixed hex. initAddress may be the zero address with empty
// initCalldata when no initializer runs.
func EncodeDiamondCut(cuts []Cut, initAddress string, initCalldata []byte) (string, error) {
	if len(cuts) == 0 {
		return "", errors.New("diamond cut requires at least one cut")
	}

	initAddr, err := parseAddress(initAddress)
	if err != nil {
		return "", err
	}

	cutsEnc, err := encodeCuts(cuts)
	if err != nil {
		return "", err
	}

	// Head: offset to cuts, init address, offset to calldata
	head := make([]byte, 0, 3*32)
	head = append(head, uintWord(3*32)...)
	head = append(head, addressWord(initAddr)...)
	head = append(head, uintWord(uint64(3*32+len(cutsEnc)))...)

	body := append(head, cutsEnc...)
	body = append(body, bytesWord(initCalldata)...)

	out := append(append([]byte{}, diamondCutSelector...), body...)
	return "0x" + hex.EncodeToString(out), nil
}

// encodeCuts encodes the dynamic array of FacetCut tuples.
func encodeCuts(cuts []Cut) ([]byte, error) {
	enc := uintWord(uint64(len(cuts)))

	// Each tuple is dynamic, so the array body starts with per-tuple offsets
	tuples := make([][]byte, len(cuts))
	for i, c := range cuts {
		t, err := encodeCutTuple(c)
		if err != nil {
			return nil, fmt.Errorf("cut %d: %w", i, err)
		}
		tuples[i] = t
	}

	offset := uint64(len(cuts) * 32)
	for _, t := range tuples {
		enc = append(enc, uintWord(offset)...)
		offset += uint64(len(t))
	}
	for _, t := range tuples {
		enc = append(enc, t...)
	}
	return enc, nil
}

// encodeCutTuple encodes one (address,uint8,bytes4[]) tuple.
func encodeCutTuple(c Cut) ([]byte, error) {
	if len(c.Selectors) == 0 {
		return nil, errors.New("cut has no selectors")
	}

	addr, err := parseAddress(c.FacetAddress)
	if err != nil {
		return nil, err
	}
	if c.Action == ActionRemove && c.FacetAddress != ZeroAddress {
		return nil, errors.New("remove cuts must use the zero facet address")
	}
	if c.Action != ActionRemove && c.FacetAddress == ZeroAddress {
		return nil, errors.New("add and replace cuts need a facet address")
	}

	enc := addressWord(addr)
	enc = append(enc, uintWord(uint64(c.Action))...)
	enc = append(enc, uintWord(3*32)...) // offset to the selectors array
	enc = append(enc, uintWord(uint64(len(c.Selectors)))...)

	for _, sel := range c.Selectors {
		word, err := selectorWord(sel)
		if err != nil {
			return nil, err
		}
		enc = append(enc, word...)
	}
	return enc, nil
}

// parseAddress decodes a 0x-prefixed 20-byte hex address.
func parseAddress(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("%w: %q", errBadAddress, s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil || len(raw) != 20 {
		return nil, fmt.Errorf("%w: %q", errBadAddress, s)
	}
	return raw, nil
}

// uintWord encodes an unsigned integer as a right-aligned 32-byte word.
func uintWord(v uint64) []byte {
	word := make([]byte, 32)
	for i := 0; i < 8; i++ {
		word[31-i] = byte(v >> (8 * i))
	}
	return word
}

// addressWord left-pads a 20-byte address to 32 bytes.
func addressWord(addr []byte) []byte {
	word := make([]byte, 32)
	copy(word[12:], addr)
	return word
}

// selectorWord left-aligns a 4-byte selector in a 32-byte word.
func selectorWord(sel string) ([]byte, error) {
	if !strings.HasPrefix(sel, "0x") {
		return nil, fmt.Errorf("invalid selector %q", sel)
	}
	raw, err := hex.DecodeString(sel[2:])
	if err != nil || len(raw) != 4 {
		return nil, fmt.Errorf("invalid selector %q", sel)
	}
	word := make([]byte, 32)
	copy(word, raw)
	return word, nil
}

// bytesWord encodes dynamic bytes: length word then right-padded content.
func bytesWord(b []byte) []byte {
	enc := uintWord(uint64(len(b)))
	enc = append(enc, b...)
	if rem := len(b) % 32; rem != 0 {
		enc = append(enc, make([]byte, 32-rem)...)
	}
	return enc
}
