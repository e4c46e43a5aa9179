package internal

import (
	"fmt"
	"os"

	"github.com/DreamCats/atomdex/internal/config"
)

// Version is the release version, overridden at build time via
// -ldflags "-X .../cmd/atomdex/internal.Version=...".
var Version = "dev"

// PrintUsage prints top-level CLI usage.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `atomdex - dual-granularity retrieval index

USAGE:
    atomdex [global options] <subcommand> [options]

GLOBAL OPTIONS:
    -config <path>    Config file (default: ~/.atomdex/config/atomdex.yaml)
    -h, -help         Show this help
    -v, -version      Show version

SUBCOMMANDS:
    ingest      Build the chunk and atom stores from record files
    search      Query the stores (atom, chunk, hybrid or keyword mode)
    stats       Show store statistics

Run 'atomdex <subcommand> -h' for subcommand options.
`)
}

// PrintConfigExample prints a pointer to the config template.
func PrintConfigExample() {
	fmt.Fprintf(os.Stderr, `Create a config file first. Example:

%s`, ConfigTemplateHint())
}

// ConfigTemplateHint returns a short hint about the default config.
func ConfigTemplateHint() string {
	path, err := config.DefaultPath()
	if err != nil {
		path = "~/.atomdex/config/atomdex.yaml"
	}
	return fmt.Sprintf("  atomdex writes a commented template to %s\n  on first 'atomdex ingest' if the file is missing.\n", path)
}

// LoadConfig loads configuration from path, or the default location when
// path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
