package genclient

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/pricing/models.yaml
var modelPricingYAML []byte

// Pricing Philosophy:
//
// The rate table exists for cost ESTIMATES, not billing. It is keyed by
// logical model name (the name the application configures), never by the
// exact provider model string, so dated provider variants resolve through
// a prefix match to their logical family.
//
// Rates drift as providers reprice. Library users can override the embedded
// table by:
//  1. Calling LoadPricingFromFile() with custom YAML
//  2. Calling RegisterModelRate() programmatically

// CostBreakdown is the estimated cost of a call, in USD.
type CostBreakdown struct {
	InputCost  float64 `json:"inputCost"`
	OutputCost float64 `json:"outputCost"`
	TotalCost  float64 `json:"totalCost"`
}

// ModelRate holds per-million-token prices for one logical model.
type ModelRate struct {
	InputPer1M  float64 `yaml:"input_per_1m"`
	OutputPer1M float64 `yaml:"output_per_1m"`
}

// Cost applies the rate to normalized token counts.
func (r ModelRate) Cost(usage TokenUsage) CostBreakdown {
	in := float64(usage.InputTokens) / 1e6 * r.InputPer1M
	out := float64(usage.OutputTokens) / 1e6 * r.OutputPer1M
	return CostBreakdown{InputCost: in, OutputCost: out, TotalCost: in + out}
}

// PricingTable maps logical model names to rates.
type PricingTable struct {
	Version     string               `yaml:"version"`      // Semantic version (e.g., "1.2.0")
	LastUpdated string               `yaml:"last_updated"` // ISO 8601 date
	Models      map[string]ModelRate `yaml:"models"`

	mu sync.RWMutex
}

var (
	globalPricing     *PricingTable
	globalPricingOnce sync.Once
)

// GetPricingTable returns the global pricing table (singleton), loading the
// embedded rates on first use.
func GetPricingTable() *PricingTable {
	globalPricingOnce.Do(func() {
		globalPricing = &PricingTable{Models: make(map[string]ModelRate)}
		if err := globalPricing.loadEmbedded(); err != nil {
			// Missing rates only degrade cost estimates to zero, so warn
			// rather than fail construction.
			fmt.Fprintf(os.Stderr, "genclient: failed to load embedded pricing: %v\n", err)
		}
	})
	return globalPricing
}

func (t *PricingTable) loadEmbedded() error {
	var loaded PricingTable
	if err := yaml.Unmarshal(modelPricingYAML, &loaded); err != nil {
		return fmt.Errorf("unmarshal embedded pricing: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Version = loaded.Version
	t.LastUpdated = loaded.LastUpdated
	for name, rate := range loaded.Models {
		t.Models[name] = rate
	}
	return nil
}

// LoadPricingFromFile merges rates from a custom YAML file into the table,
// overriding embedded entries with the same name.
func (t *PricingTable) LoadPricingFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pricing file: %w", err)
	}
	var loaded PricingTable
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("unmarshal pricing file %s: %w", path, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if loaded.Version != "" {
		t.Version = loaded.Version
	}
	for name, rate := range loaded.Models {
		t.Models[name] = rate
	}
	return nil
}

// RegisterModelRate adds or replaces the rate for one logical model.
func (t *PricingTable) RegisterModelRate(model string, rate ModelRate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Models[model] = rate
}

// ResolveRate looks up the rate for a model string. Exact matches win;
// otherwise the longest table key that is a prefix of the model string is
// used, so dated provider variants like "gemini-2.0-flash-001" resolve the
// "gemini-2.0-flash" rate. Returns false when nothing matches.
func (t *PricingTable) ResolveRate(model string) (ModelRate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if rate, ok := t.Models[model]; ok {
		return rate, true
	}
	var (
		best    string
		bestOK  bool
		bestVal ModelRate
	)
	for name, rate := range t.Models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best, bestVal, bestOK = name, rate, true
		}
	}
	return bestVal, bestOK
}

// Cost estimates the cost of the given usage under the named model.
// Unknown models cost zero.
func (t *PricingTable) Cost(model string, usage TokenUsage) CostBreakdown {
	rate, ok := t.ResolveRate(model)
	if !ok {
		return CostBreakdown{}
	}
	return rate.Cost(usage)
}
