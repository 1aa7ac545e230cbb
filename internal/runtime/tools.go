package runtime

import (
	"github.com/errandhq/errand/config"
	"github.com/errandhq/errand/internal/tools"
	"github.com/errandhq/errand/internal/tools/browser"
)

// BuildToolProviders assembles the tool providers declared by config.
// The calculator is always present; stdio child processes and the
// headless-browser fetcher are added when configured.
func BuildToolProviders(cfg config.ToolsConfig) []tools.Provider {
	providers := []tools.Provider{tools.NewCalculatorProvider()}
	for _, sc := range cfg.Stdio {
		providers = append(providers, tools.NewStdioProvider(sc.Name, sc.Command, sc.Args...))
	}
	if cfg.Browser.Enabled {
		f := browser.NewFetcher()
		if cfg.Browser.Timeout > 0 {
			f.Timeout = cfg.Browser.Timeout
		}
		if cfg.Browser.MaxChars > 0 {
			f.MaxChars = cfg.Browser.MaxChars
		}
		if cfg.Browser.UserAgent != "" {
			f.UserAgent = cfg.Browser.UserAgent
		}
		providers = append(providers, browser.NewProvider(f))
	}
	return providers
}
