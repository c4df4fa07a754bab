package shop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/erazemk/bazaar/internal/model"
)

// LoadFailure records a definition that could not be loaded.
type LoadFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// LoadedDefinition is a parsed, validated definition and the file it came from.
type LoadedDefinition struct {
	Path       string
	Definition model.ShopDefinition
}

// LoadDefinitions parses every *.json file in dir. Bad files are reported and
// skipped; a missing or empty directory yields a single failure.
func LoadDefinitions(dir string) ([]LoadedDefinition, []LoadFailure) {
	if strings.TrimSpace(dir) == "" {
		return nil, []LoadFailure{{Reason: "no shop definition directory configured"}}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []LoadFailure{{Path: dir, Reason: fmt.Sprintf("reading directory: %v", err)}}
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, []LoadFailure{{Path: dir, Reason: "no shop definitions found"}}
	}
	sort.Strings(paths)

	var (
		defs     []LoadedDefinition
		failures []LoadFailure
		seen     = make(map[string]string)
	)
	for _, path := range paths {
		def, err := readDefinition(path)
		if err != nil {
			failures = append(failures, LoadFailure{Path: path, Reason: err.Error()})
			continue
		}
		if first, dup := seen[def.Tag]; dup {
			failures = append(failures, LoadFailure{Path: path, Reason: fmt.Sprintf("shop %s already defined in %s", def.Tag, first)})
			continue
		}
		seen[def.Tag] = path
		defs = append(defs, LoadedDefinition{Path: path, Definition: def})
	}
	return defs, failures
}

func readDefinition(path string) (model.ShopDefinition, error) {
	var def model.ShopDefinition

	data, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("reading file: %w", err)
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parsing: %w", err)
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	return def, nil
}
