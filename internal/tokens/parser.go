package tokens

import (
	"encoding/json"
	"strings"
)

// Transfer is the token movement encoded in a contract call.
type Transfer struct {
	TokenID string `json:"token_id"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

// Parser extracts transfers from FA1.2 and FA2 "transfer" calls.
type Parser struct {
	registry *Registry
}

func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

type node struct {
	Prim   string  `json:"prim,omitempty"`
	Args   []node  `json:"args,omitempty"`
	Int    *string `json:"int,omitempty"`
	String *string `json:"string,omitempty"`
	Bytes  *string `json:"bytes,omitempty"`
	Seq    []node  `json:"-"`
}

func (n *node) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var seq []node
		if err := json.Unmarshal(b, &seq); err != nil {
			return err
		}
		n.Seq = seq
		if n.Seq == nil {
			n.Seq = []node{}
		}
		return nil
	}
	type plain node
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*n = node(p)
	return nil
}

func (n node) isPair() bool {
	return n.Prim == "Pair" && len(n.Args) >= 2
}

// pairArgs unfolds right-comb pairs so Pair a b c reads like Pair a (Pair b c).
func (n node) pairArgs() (node, node, bool) {
	if !n.isPair() {
		return node{}, node{}, false
	}
	if len(n.Args) == 2 {
		return n.Args[0], n.Args[1], true
	}
	return n.Args[0], node{Prim: "Pair", Args: n.Args[1:]}, true
}

func (n node) text() (string, bool) {
	if n.String != nil {
		return *n.String, true
	}
	return "", false
}

func (n node) integer() (string, bool) {
	if n.Int != nil && !strings.HasPrefix(*n.Int, "-") {
		return *n.Int, true
	}
	return "", false
}

// ParseTokenTransfer decodes a single-recipient transfer call. ok is false for anything else.
func (p *Parser) ParseTokenTransfer(destination, entrypoint string, value json.RawMessage) (Transfer, bool) {
	if strings.TrimSpace(entrypoint) != "transfer" || len(value) == 0 {
		return Transfer{}, false
	}
	std := StandardFA12
	if p.registry != nil {
		known, ok := p.registry.ContractStandard(destination)
		if !ok {
			return Transfer{}, false
		}
		std = known
	}
	var root node
	if err := json.Unmarshal(value, &root); err != nil {
		return Transfer{}, false
	}
	switch std {
	case StandardFA12:
		return parseFA12(destination, root)
	case StandardFA2:
		return parseFA2(destination, root)
	default:
		return Transfer{}, false
	}
}

// Pair from (Pair to value)
func parseFA12(contract string, root node) (Transfer, bool) {
	_, rest, ok := root.pairArgs()
	if !ok {
		return Transfer{}, false
	}
	toNode, amountNode, ok := rest.pairArgs()
	if !ok {
		return Transfer{}, false
	}
	to, ok := toNode.text()
	if !ok {
		return Transfer{}, false
	}
	amount, ok := amountNode.integer()
	if !ok {
		return Transfer{}, false
	}
	return Transfer{TokenID: AssetID(contract, "0"), To: to, Amount: amount}, true
}

// { Pair from { Pair to (Pair token_id amount) } }
func parseFA2(contract string, root node) (Transfer, bool) {
	if len(root.Seq) != 1 {
		return Transfer{}, false
	}
	_, txs, ok := root.Seq[0].pairArgs()
	if !ok || len(txs.Seq) != 1 {
		return Transfer{}, false
	}
	toNode, rest, ok := txs.Seq[0].pairArgs()
	if !ok {
		return Transfer{}, false
	}
	to, ok := toNode.text()
	if !ok {
		return Transfer{}, false
	}
	idNode, amountNode, ok := rest.pairArgs()
	if !ok {
		return Transfer{}, false
	}
	tokenID, ok := idNode.integer()
	if !ok {
		return Transfer{}, false
	}
	amount, ok := amountNode.integer()
	if !ok {
		return Transfer{}, false
	}
	return Transfer{TokenID: AssetID(contract, tokenID), To: to, Amount: amount}, true
}
