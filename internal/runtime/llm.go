package runtime

import (
	"fmt"

	"github.com/errandhq/errand/config"
	"github.com/errandhq/errand/provider"
	_ "github.com/errandhq/errand/provider/anthropic"
	_ "github.com/errandhq/errand/provider/openai"
)

// BuildPlanningProvider resolves the routing table to a concrete LLM backend.
// The planning entry wins; fallback is used when planning is unset.
func BuildPlanningProvider(cfg config.LLMConfig) (provider.Provider, error) {
	name := cfg.Routing.Planning
	if name == "" {
		name = cfg.Routing.Fallback
	}
	if name == "" {
		return nil, fmt.Errorf("llm.routing.planning or llm.routing.fallback required")
	}
	entry, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q not configured", name)
	}
	p, err := provider.New(provider.Client(entry.Type), provider.Options{
		APIKey:  entry.APIKey,
		Model:   entry.Model,
		BaseURL: entry.BaseURL,
		Timeout: entry.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("building llm provider %q: %w", name, err)
	}
	return p, nil
}
