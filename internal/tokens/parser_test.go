package tokens

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFA12Transfer(t *testing.T) {
	p := NewParser(testRegistry(t))
	value := json.RawMessage(`{"prim":"Pair","args":[{"string":"tz1from"},{"prim":"Pair","args":[{"string":"tz1to"},{"int":"2500000"}]}]}`)

	got, ok := p.ParseTokenTransfer(usdContract, "transfer", value)
	require.True(t, ok)
	assert.Equal(t, Transfer{TokenID: usdContract + ":0", To: "tz1to", Amount: "2500000"}, got)

	comb := json.RawMessage(`{"prim":"Pair","args":[{"string":"tz1from"},{"string":"tz1to"},{"int":"1"}]}`)
	got, ok = p.ParseTokenTransfer(usdContract, "transfer", comb)
	require.True(t, ok)
	assert.Equal(t, "tz1to", got.To)
}

func TestParseFA2Transfer(t *testing.T) {
	p := NewParser(testRegistry(t))
	value := json.RawMessage(`[{"prim":"Pair","args":[{"string":"tz1from"},[{"prim":"Pair","args":[{"string":"tz1to"},{"prim":"Pair","args":[{"int":"7"},{"int":"1"}]}]}]]}]`)

	got, ok := p.ParseTokenTransfer(nftContract, "transfer", value)
	require.True(t, ok)
	assert.Equal(t, Transfer{TokenID: nftContract + ":7", To: "tz1to", Amount: "1"}, got)
}

func TestParseTokenTransferRejects(t *testing.T) {
	p := NewParser(testRegistry(t))
	fa12 := json.RawMessage(`{"prim":"Pair","args":[{"string":"tz1from"},{"prim":"Pair","args":[{"string":"tz1to"},{"int":"1"}]}]}`)
	multi := json.RawMessage(`[{"prim":"Pair","args":[{"string":"tz1from"},[
		{"prim":"Pair","args":[{"string":"tz1a"},{"prim":"Pair","args":[{"int":"7"},{"int":"1"}]}]},
		{"prim":"Pair","args":[{"string":"tz1b"},{"prim":"Pair","args":[{"int":"7"},{"int":"1"}]}]}
	]]}]`)

	cases := []struct {
		name        string
		destination string
		entrypoint  string
		value       json.RawMessage
	}{
		{"other entrypoint", usdContract, "approve", fa12},
		{"unknown contract", "KT1Unknown", "transfer", fa12},
		{"empty value", usdContract, "transfer", nil},
		{"negative amount", usdContract, "transfer", json.RawMessage(`{"prim":"Pair","args":[{"string":"a"},{"prim":"Pair","args":[{"string":"b"},{"int":"-1"}]}]}`)},
		{"fa2 shape on fa1.2", usdContract, "transfer", multi},
		{"multiple destinations", nftContract, "transfer", multi},
		{"broken json", usdContract, "transfer", json.RawMessage(`{`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := p.ParseTokenTransfer(tc.destination, tc.entrypoint, tc.value)
			assert.False(t, ok)
		})
	}
}
