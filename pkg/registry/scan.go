package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const manifestSuffix = ".unit.yaml"

// scanResult carries everything a single scan produced. Unit-level failures
// land in errs and never abort the rest of the scan.
type scanResult struct {
	items   []Item
	closers []func() error
	errs    []error
}

// scanDirs walks every watched directory for unit manifests and builds the
// full item set. One broken manifest is skipped with an error entry; the
// remaining units still load.
func (r *Registry) scanDirs(ctx context.Context, dirs []string) scanResult {
	var res scanResult
	seen := map[string]string{}

	for _, dir := range dirs {
		manifests, errs := collectManifests(dir)
		res.errs = append(res.errs, errs...)

		for _, m := range manifests {
			if prev, dup := seen[m.Name]; dup {
				res.errs = append(res.errs, fmt.Errorf("registry: duplicate unit %q at %s (already from %s)", m.Name, m.Path, prev))
				continue
			}
			items, closer, err := r.buildUnit(ctx, m)
			if err != nil {
				res.errs = append(res.errs, fmt.Errorf("registry: load %s: %w", m.Path, err))
				continue
			}
			for _, it := range items {
				if prev, dup := seen[it.Name]; dup {
					res.errs = append(res.errs, fmt.Errorf("registry: duplicate unit %q at %s (already from %s)", it.Name, m.Path, prev))
					continue
				}
				seen[it.Name] = m.Path
				res.items = append(res.items, it)
			}
			if closer != nil {
				res.closers = append(res.closers, closer)
			}
		}
	}
	return res
}

// collectManifests finds and parses every *.unit.yaml under root. Parse
// failures are reported per file.
func collectManifests(root string) ([]Manifest, []error) {
	var (
		manifests []Manifest
		errs      []error
	)

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("registry: stat %s: %w", root, err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("registry: path %s is not a directory", root)}
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			errs = append(errs, fmt.Errorf("registry: walk %s: %w", path, walkErr))
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), manifestSuffix) {
			return nil
		}
		m, parseErr := parseManifest(path)
		if parseErr != nil {
			errs = append(errs, parseErr)
			return nil
		}
		manifests = append(manifests, m)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return manifests, errs
}

func parseManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	m.Path = path
	if err := m.validate(); err != nil {
		return Manifest{}, fmt.Errorf("registry: validate %s: %w", path, err)
	}
	return m, nil
}

// buildUnit turns a manifest into one or more items. A kind: mcp manifest
// expands into one item per remote tool and owns the client session.
func (r *Registry) buildUnit(ctx context.Context, m Manifest) ([]Item, func() error, error) {
	switch Kind(m.Kind) {
	case KindMCP:
		return r.buildMCPUnits(ctx, m)
	case KindTool, KindAgent:
		factory, ok := r.factory(m.Factory)
		if !ok {
			return nil, nil, fmt.Errorf("unknown factory %q", m.Factory)
		}
		exec, err := factory(m)
		if err != nil {
			return nil, nil, fmt.Errorf("factory %q: %w", m.Factory, err)
		}
		it := Item{
			Name:        m.Name,
			Kind:        Kind(m.Kind),
			Description: m.Description,
			Schema:      m.Schema,
			Execute:     exec,
			Source:      m.Path,
		}
		if Kind(m.Kind) == KindAgent && m.DynamicTools != "" {
			dir := m.DynamicTools
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(filepath.Dir(m.Path), dir)
			}
			it.DynamicToolsDir = dir
		}
		return []Item{it}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown kind %q", m.Kind)
	}
}
