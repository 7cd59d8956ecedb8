package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// BuiltinPacks lists the pack names shipped in the binary.
func BuiltinPacks() []string {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(out)
	return out
}

// Loader resolves templates from three layers. Built-in packs named in
// EnabledPacks come first, pack files in PacksDir replace them, and
// per-type files in TemplatesDir replace both. Replacement is by type name.
type Loader struct {
	EnabledPacks []string
	PacksDir     string
	TemplatesDir string
}

func (l Loader) Load() (LoadResult, error) {
	var res LoadResult
	byType := map[string]TypeTemplate{}
	var order []string
	put := func(tpl TypeTemplate) {
		if _, ok := byType[tpl.Type]; !ok {
			order = append(order, tpl.Type)
		}
		byType[tpl.Type] = tpl
	}
	addPack := func(p WorkflowPack) {
		res.Packs = append(res.Packs, p)
		names := make([]string, 0, len(p.Types))
		for name := range p.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			put(p.Types[name])
		}
	}

	for _, name := range l.EnabledPacks {
		data, err := builtinFS.ReadFile("builtin/" + name + ".yaml")
		if err != nil {
			return res, fmt.Errorf("unknown built-in pack %q", name)
		}
		p, err := parsePackFile("builtin/"+name+".yaml", data)
		if err != nil {
			return res, err
		}
		addPack(p)
	}

	packFiles, err := documentFiles(l.PacksDir)
	if err != nil {
		return res, err
	}
	for _, file := range packFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			return res, err
		}
		p, err := parsePackFile(file, data)
		if err != nil {
			return res, err
		}
		addPack(p)
	}

	overrideFiles, err := documentFiles(l.TemplatesDir)
	if err != nil {
		return res, err
	}
	for _, file := range overrideFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			return res, err
		}
		raw, err := decodeDocument(file, data)
		if err != nil {
			return res, err
		}
		tpl, err := ParseTemplate(raw)
		if err != nil {
			return res, fmt.Errorf("%s: %w", file, err)
		}
		put(tpl)
	}

	loaded := map[string]bool{}
	for _, p := range res.Packs {
		loaded[p.Pack] = true
	}
	for _, p := range res.Packs {
		for _, req := range p.RequiresPacks {
			if !loaded[req] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("pack %s requires pack %s, which is not loaded", p.Pack, req))
			}
		}
	}
	for _, name := range order {
		res.Templates = append(res.Templates, byType[name])
	}
	return res, nil
}

// Dirs returns the filesystem directories the loader reads, for watching.
func (l Loader) Dirs() []string {
	var out []string
	for _, d := range []string{l.PacksDir, l.TemplatesDir} {
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func parsePackFile(name string, data []byte) (WorkflowPack, error) {
	raw, err := decodeDocument(name, data)
	if err != nil {
		return WorkflowPack{}, err
	}
	p, err := ParsePack(raw)
	if err != nil {
		return WorkflowPack{}, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

func isDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}

// documentFiles lists template documents in dir, sorted. A missing directory
// is an empty layer.
func documentFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isDocument(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// decodeDocument parses YAML, JSON or TOML into a generic map. JSON goes
// through the YAML decoder since it is a subset.
func decodeDocument(name string, data []byte) (map[string]any, error) {
	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%s: invalid toml: %w", name, err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%s: invalid yaml: %w", name, err)
		}
	}
	return raw, nil
}
