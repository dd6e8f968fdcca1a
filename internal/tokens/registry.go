package tokens

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Standard string

const (
	StandardFA12 Standard = "fa1.2"
	StandardFA2  Standard = "fa2"
)

// Asset describes a known token. ID has the form "<contract>:<token id>".
type Asset struct {
	ID       string   `json:"id" yaml:"id"`
	Contract string   `json:"contract" yaml:"-"`
	TokenID  string   `json:"token_id" yaml:"token_id"`
	Symbol   string   `json:"symbol" yaml:"symbol"`
	Name     string   `json:"name,omitempty" yaml:"name"`
	Decimals int      `json:"decimals" yaml:"decimals"`
	Standard Standard `json:"standard" yaml:"-"`
}

type Contract struct {
	Address  string   `yaml:"address"`
	Standard Standard `yaml:"standard"`
	Assets   []Asset  `yaml:"assets"`
}

type fileRegistry struct {
	Contracts []Contract `yaml:"contracts"`
}

// Registry answers membership questions about token contracts and token ids.
type Registry struct {
	contracts map[string]Standard
	assets    map[string]Asset
}

func NewRegistry(contracts []Contract) (*Registry, error) {
	r := &Registry{
		contracts: make(map[string]Standard, len(contracts)),
		assets:    map[string]Asset{},
	}
	for _, c := range contracts {
		addr := strings.TrimSpace(c.Address)
		if addr == "" {
			return nil, fmt.Errorf("token contract is missing an address")
		}
		std := Standard(strings.ToLower(strings.TrimSpace(string(c.Standard))))
		if std != StandardFA12 && std != StandardFA2 {
			return nil, fmt.Errorf("token contract %s has unsupported standard %q", addr, c.Standard)
		}
		r.contracts[addr] = std
		for _, a := range c.Assets {
			tokenID := strings.TrimSpace(a.TokenID)
			if tokenID == "" {
				tokenID = tokenIDFromAssetID(a.ID)
			}
			if std == StandardFA12 || tokenID == "" {
				tokenID = "0"
			}
			if a.Decimals < 0 {
				return nil, fmt.Errorf("token %s:%s has negative decimals", addr, tokenID)
			}
			a.Contract = addr
			a.TokenID = tokenID
			a.Standard = std
			a.ID = AssetID(addr, tokenID)
			r.assets[a.ID] = a
		}
	}
	return r, nil
}

// LoadRegistry reads a YAML registry file. A missing file yields an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return NewRegistry(nil)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil)
		}
		return nil, fmt.Errorf("read token registry: %w", err)
	}
	var cfg fileRegistry
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse token registry yaml: %w", err)
	}
	return NewRegistry(cfg.Contracts)
}

func AssetID(contract, tokenID string) string {
	return contract + ":" + tokenID
}

func (r *Registry) IsKnownTokenContract(address string) bool {
	_, ok := r.contracts[strings.TrimSpace(address)]
	return ok
}

func (r *Registry) IsKnownTokenID(id string) bool {
	_, ok := r.assets[id]
	return ok
}

func (r *Registry) Asset(id string) (Asset, bool) {
	a, ok := r.assets[id]
	return a, ok
}

func (r *Registry) ContractStandard(address string) (Standard, bool) {
	std, ok := r.contracts[strings.TrimSpace(address)]
	return std, ok
}

// Assets returns all known assets ordered by id.
func (r *Registry) Assets() []Asset {
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func tokenIDFromAssetID(id string) string {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return ""
	}
	return id[idx+1:]
}
