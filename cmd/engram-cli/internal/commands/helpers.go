package commands

import (
	"github.com/anthropics/anthropic-sdk-go"

	"github.com/XiaoConstantine/engram-go/pkg/config"
	"github.com/XiaoConstantine/engram-go/pkg/refine"
	"github.com/XiaoConstantine/engram-go/pkg/store"
)

// loadSetup resolves configuration and opens the store. The --db flag
// overrides the configured path when non-empty.
func loadSetup(configPath, dbOverride string) (*config.Config, *store.Store, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Storage.DBPath
	if dbOverride != "" {
		dbPath = dbOverride
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

// refinerFromConfig wires the gated rewrite capability only when the
// configuration enables it.
func refinerFromConfig(cfg *config.Config) *refine.Refiner {
	opts := refine.DefaultOptions()
	opts.RewriteFloor = cfg.Rewrite.Floor
	opts.MaxChars = cfg.Rewrite.MaxChars
	opts.Timeout = cfg.Rewrite.Timeout
	if cfg.Rewrite.Enabled && cfg.Rewrite.Provider == "anthropic" {
		rw := refine.NewAnthropicRewriter(cfg.Rewrite.APIKey, anthropic.Model(cfg.Rewrite.Model), nil)
		opts.Rewrite = rw
		opts.ArchiveRewrite = rw
	}
	return refine.NewRefiner(nil, opts, nil)
}
