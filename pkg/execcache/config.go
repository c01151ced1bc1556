package execcache

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Options configures [Open].
type Options struct {
	// Directory is the on-disk store root. Created recursively if absent.
	Directory string

	// Disabled, if true, makes every TryHit miss and every Record a no-op.
	Disabled bool

	// Notifier receives diagnostics. Defaults to [NopNotifier] if nil.
	Notifier Notifier
}

// FileConfig is the on-disk shape of a cache config file, loaded with
// [LoadConfig]. It mirrors [Options]' data-carrying fields; Notifier isn't
// serializable and is set programmatically after loading.
type FileConfig struct {
	Directory string `json:"directory"`
	Disabled  bool   `json:"disabled"`
}

// LoadConfig reads a JWCC (JSON with comments and trailing commas) config
// file at path and returns the [Options] it describes, so operators can
// annotate cache configuration in place. Notifier is left nil; callers set
// it explicitly.
func LoadConfig(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("execcache: load config %q: %w", path, err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return Options{}, fmt.Errorf("execcache: load config %q: %w", path, err)
	}

	var fc FileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return Options{}, fmt.Errorf("execcache: load config %q: %w", path, err)
	}

	return Options{Directory: fc.Directory, Disabled: fc.Disabled}, nil
}
