package facts

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Registry is the set of already-known company names, lower-cased. Loaded
// once at startup and read-only afterwards, so concurrent reads are safe.
type Registry struct {
	names map[string]struct{}
}

// LoadRegistry reads a one-column CSV with a company_name header. A missing
// file yields an empty registry, not an error: emerging detection then fails
// open and reports every ORG mention that passes the name heuristic.
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{names: map[string]struct{}{}}, nil
		}
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return &Registry{names: map[string]struct{}{}}, nil
		}
		return nil, fmt.Errorf("read registry header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.ToLower(name)) == "company_name" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("registry %s: missing company_name column", path)
	}

	names := map[string]struct{}{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read registry row: %w", err)
		}
		if col >= len(row) {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(row[col]))
		if name != "" {
			names[name] = struct{}{}
		}
	}
	return &Registry{names: names}, nil
}

// Known reports whether name is in the registry, case-insensitively.
func (r *Registry) Known(name string) bool {
	_, ok := r.names[strings.ToLower(name)]
	return ok
}

// Len returns the number of registered companies.
func (r *Registry) Len() int { return len(r.names) }
