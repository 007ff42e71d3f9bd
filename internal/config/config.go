// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config reads and validates dataset configuration: one ini
// section per dataset, either a "config" file inside the dataset root
// or a sections file collecting many datasets.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// ReplaceStrategy is the collision policy applied on unique-key
// duplicates.
type ReplaceStrategy int

const (
	// ReplaceDefault resolves to the dataset's configured strategy.
	ReplaceDefault ReplaceStrategy = iota
	ReplaceNever
	ReplaceAlways
	ReplaceHigherUSN
)

func (r ReplaceStrategy) String() string {
	switch r {
	case ReplaceNever:
		return "never"
	case ReplaceAlways:
		return "always"
	case ReplaceHigherUSN:
		return "higher_usn"
	default:
		return "default"
	}
}

// ParseReplace parses the "replace" configuration value; arkimet
// historically accepted yes/true for always.
func ParseReplace(s string) (ReplaceStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no", "false", "never", "0":
		return ReplaceNever, nil
	case "yes", "true", "always", "1":
		return ReplaceAlways, nil
	case "usn", "higher_usn":
		return ReplaceHigherUSN, nil
	default:
		return ReplaceNever, fmt.Errorf("unsupported replace value %q", s)
	}
}

// recognizedKeys is the explicit enum of dataset options; anything
// else is warned about and ignored.
var recognizedKeys = map[string]bool{
	"type": true, "path": true, "name": true, "format": true,
	"step": true, "filter": true, "unique": true, "index": true,
	"replace": true, "archive age": true, "delete age": true,
	"postprocess": true, "smallfiles": true, "gz group size": true,
	"offline": true, "eatmydata": true, "locking": true,
	"test": true,
}

var knownTypes = map[string]bool{
	"iseg": true, "ondisk2": true, "simple": true,
	"outbound": true, "discard": true, "empty": true, "remote": true,
}

// Dataset is one dataset's validated configuration.
type Dataset struct {
	Name   string
	Path   string
	Type   string
	Format string
	Step   string
	Filter string

	Unique []types.Code
	Index  []types.Code

	Replace     ReplaceStrategy
	ArchiveAge  int // days; 0 disables
	DeleteAge   int // days; 0 disables
	Postprocess []string
	Smallfiles  bool
	GzGroupSize int
	Offline     bool
	Eatmydata   bool
	Locking     bool
	// Test enables the destructive checker test operations; never set
	// it on production datasets.
	Test bool
}

// DefaultIndex is the dimension set indexed when "index" is not
// configured.
var DefaultIndex = []types.Code{
	types.CodeOrigin, types.CodeProduct, types.CodeLevel,
	types.CodeTimerange, types.CodeArea, types.CodeProddef, types.CodeRun,
}

// FromSection builds and validates one dataset config.
func FromSection(name string, sec *ini.Section) (*Dataset, error) {
	cfg := &Dataset{
		Name:        name,
		Type:        "iseg",
		GzGroupSize: 512,
		Locking:     true,
	}
	for _, key := range sec.Keys() {
		if !recognizedKeys[strings.ToLower(key.Name())] {
			log.Warnf("dataset %s: unknown configuration key %q ignored", name, key.Name())
		}
	}

	get := func(key string) string { return strings.TrimSpace(sec.Key(key).String()) }

	if v := get("name"); v != "" {
		cfg.Name = v
	}
	cfg.Path = get("path")
	if v := get("type"); v != "" {
		cfg.Type = strings.ToLower(v)
	}
	cfg.Format = strings.ToLower(get("format"))
	cfg.Step = strings.ToLower(get("step"))
	cfg.Filter = get("filter")

	var err error
	if cfg.Unique, err = parseCodes(get("unique")); err != nil {
		return nil, fmt.Errorf("dataset %s: unique: %v", name, err)
	}
	if cfg.Index, err = parseCodes(get("index")); err != nil {
		return nil, fmt.Errorf("dataset %s: index: %v", name, err)
	}
	if len(cfg.Index) == 0 {
		cfg.Index = append([]types.Code(nil), DefaultIndex...)
	}

	if v := get("replace"); v != "" {
		if cfg.Replace, err = ParseReplace(v); err != nil {
			return nil, fmt.Errorf("dataset %s: %v", name, err)
		}
	} else {
		cfg.Replace = ReplaceNever
	}
	if cfg.ArchiveAge, err = parseDays(get("archive age")); err != nil {
		return nil, fmt.Errorf("dataset %s: archive age: %v", name, err)
	}
	if cfg.DeleteAge, err = parseDays(get("delete age")); err != nil {
		return nil, fmt.Errorf("dataset %s: delete age: %v", name, err)
	}
	if v := get("postprocess"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Postprocess = append(cfg.Postprocess, p)
			}
		}
	}
	cfg.Smallfiles = parseBool(get("smallfiles"))
	if v := get("gz group size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("dataset %s: gz group size %q is not a number", name, v)
		}
		cfg.GzGroupSize = n
	}
	cfg.Offline = parseBool(get("offline"))
	cfg.Eatmydata = parseBool(get("eatmydata"))
	if v := get("locking"); v != "" {
		cfg.Locking = parseBool(v)
	}
	cfg.Test = parseBool(get("test"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-key consistency.
func (cfg *Dataset) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("dataset without a name")
	}
	if !knownTypes[cfg.Type] {
		return fmt.Errorf("dataset %s: unknown type %q", cfg.Name, cfg.Type)
	}
	switch cfg.Type {
	case "iseg":
		if cfg.Format == "" {
			return fmt.Errorf("dataset %s: type iseg requires a format", cfg.Name)
		}
		if cfg.Step == "" || cfg.Path == "" {
			return fmt.Errorf("dataset %s: type iseg requires step and path", cfg.Name)
		}
	case "ondisk2", "simple":
		if cfg.Step == "" || cfg.Path == "" {
			return fmt.Errorf("dataset %s: type %s requires step and path", cfg.Name, cfg.Type)
		}
	case "outbound":
		if cfg.Step == "" || cfg.Path == "" {
			return fmt.Errorf("dataset %s: type outbound requires step and path", cfg.Name)
		}
	case "remote":
		if cfg.Path == "" {
			return fmt.Errorf("dataset %s: type remote requires a path (server URL)", cfg.Name)
		}
	}
	for _, code := range cfg.Unique {
		if code == types.CodeSource || code == types.CodeNote {
			return fmt.Errorf("dataset %s: %s cannot be a unique dimension", cfg.Name, code)
		}
	}
	return nil
}

func parseCodes(s string) ([]types.Code, error) {
	if s == "" {
		return nil, nil
	}
	var out []types.Code
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		code, err := types.ParseCode(part)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

func parseDays(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a day count", s)
	}
	return n, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

func iniLoad(source interface{}) (*ini.File, error) {
	// section names are case-sensitive; keys may contain spaces
	// ("archive age")
	return ini.LoadSources(ini.LoadOptions{
		SpaceBeforeInlineComment: true,
	}, source)
}

// ReadDataset loads the "config" file inside a dataset root; the
// dataset name defaults to the directory name.
func ReadDataset(root string) (*Dataset, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	cfg, err := iniLoad(filepath.Join(abs, "config"))
	if err != nil {
		return nil, err
	}
	sec := cfg.Section(ini.DefaultSection)
	// the path default must be in place before validation runs
	if strings.TrimSpace(sec.Key("path").String()) == "" {
		sec.Key("path").SetValue(abs)
	}
	ds, err := FromSection(filepath.Base(abs), sec)
	if err != nil {
		return nil, err
	}
	if ds.Path == "" {
		ds.Path = abs
	}
	return ds, nil
}

func sectionsFrom(cfg *ini.File) (map[string]*Dataset, error) {
	out := make(map[string]*Dataset)
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		ds, err := FromSection(sec.Name(), sec)
		if err != nil {
			return nil, err
		}
		out[ds.Name] = ds
	}
	return out, nil
}

// ReadSections loads a sections file collecting many datasets.
func ReadSections(path string) (map[string]*Dataset, error) {
	cfg, err := iniLoad(path)
	if err != nil {
		return nil, err
	}
	return sectionsFrom(cfg)
}

// ParseSections loads a sections file from bytes, as served by GET
// /config.
func ParseSections(data []byte) (map[string]*Dataset, error) {
	cfg, err := iniLoad(data)
	if err != nil {
		return nil, err
	}
	return sectionsFrom(cfg)
}

// Render writes the config back in ini form, used both by GET /config
// and when materializing a dataset on disk.
func (cfg *Dataset) Render(withSection bool) string {
	var sb strings.Builder
	if withSection {
		sb.WriteString("[" + cfg.Name + "]\n")
		if cfg.Path != "" {
			sb.WriteString("path = " + cfg.Path + "\n")
		}
	}
	sb.WriteString("type = " + cfg.Type + "\n")
	if cfg.Format != "" {
		sb.WriteString("format = " + cfg.Format + "\n")
	}
	if cfg.Step != "" {
		sb.WriteString("step = " + cfg.Step + "\n")
	}
	if cfg.Filter != "" {
		sb.WriteString("filter = " + cfg.Filter + "\n")
	}
	if len(cfg.Unique) > 0 {
		sb.WriteString("unique = " + renderCodes(cfg.Unique) + "\n")
	}
	if len(cfg.Index) > 0 {
		sb.WriteString("index = " + renderCodes(cfg.Index) + "\n")
	}
	if cfg.Replace != ReplaceNever && cfg.Replace != ReplaceDefault {
		sb.WriteString("replace = " + cfg.Replace.String() + "\n")
	}
	if cfg.ArchiveAge > 0 {
		sb.WriteString("archive age = " + strconv.Itoa(cfg.ArchiveAge) + "\n")
	}
	if cfg.DeleteAge > 0 {
		sb.WriteString("delete age = " + strconv.Itoa(cfg.DeleteAge) + "\n")
	}
	if len(cfg.Postprocess) > 0 {
		sorted := append([]string(nil), cfg.Postprocess...)
		sort.Strings(sorted)
		sb.WriteString("postprocess = " + strings.Join(sorted, ", ") + "\n")
	}
	if cfg.Smallfiles {
		sb.WriteString("smallfiles = yes\n")
	}
	if cfg.GzGroupSize != 512 {
		sb.WriteString("gz group size = " + strconv.Itoa(cfg.GzGroupSize) + "\n")
	}
	if cfg.Offline {
		sb.WriteString("offline = yes\n")
	}
	if cfg.Eatmydata {
		sb.WriteString("eatmydata = yes\n")
	}
	if !cfg.Locking {
		sb.WriteString("locking = no\n")
	}
	if cfg.Test {
		sb.WriteString("test = yes\n")
	}
	return sb.String()
}

func renderCodes(codes []types.Code) string {
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = code.String()
	}
	return strings.Join(parts, ", ")
}

// HasUnique reports whether duplicate detection is configured.
func (cfg *Dataset) HasUnique() bool {
	return len(cfg.Unique) > 0
}

// IsIndexed reports whether a dimension takes part in index lookups.
func (cfg *Dataset) IsIndexed(code types.Code) bool {
	if code == types.CodeReftime {
		return true
	}
	for _, c := range cfg.Index {
		if c == code {
			return true
		}
	}
	return false
}
