// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package matcher

import (
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Aliases is the matcher alias database: one ini section per
// dimension, each key naming a replacement for its value. It is
// read-mostly: sessions load it once and swap the snapshot atomically
// on reload.
type Aliases struct {
	mu     sync.RWMutex
	byCode map[types.Code]map[string]string
}

func NewAliases() *Aliases {
	return &Aliases{byCode: make(map[types.Code]map[string]string)}
}

// LoadAliases reads an alias database from an ini file.
func LoadAliases(path string) (*Aliases, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return aliasesFromIni(cfg), nil
}

// ParseAliases reads an alias database from ini-formatted bytes, as
// served by a remote dataset.
func ParseAliases(data []byte) (*Aliases, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, err
	}
	return aliasesFromIni(cfg), nil
}

func aliasesFromIni(cfg *ini.File) *Aliases {
	a := NewAliases()
	for _, section := range cfg.Sections() {
		code, err := types.ParseCode(strings.ToLower(section.Name()))
		if err != nil {
			continue
		}
		entries := make(map[string]string)
		for _, key := range section.Keys() {
			entries[strings.ToLower(key.Name())] = key.Value()
		}
		a.byCode[code] = entries
	}
	return a
}

// Add registers one alias.
func (a *Aliases) Add(code types.Code, name, expansion string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries := a.byCode[code]
	if entries == nil {
		entries = make(map[string]string)
		a.byCode[code] = entries
	}
	entries[strings.ToLower(name)] = expansion
}

// Expand rewrites every OR alternative that names an alias of the
// given dimension.
func (a *Aliases) Expand(code types.Code, body string) string {
	a.mu.RLock()
	entries := a.byCode[code]
	a.mu.RUnlock()
	if len(entries) == 0 {
		return body
	}
	alts := strings.Split(body, " or ")
	for i, alt := range alts {
		if expansion, ok := entries[strings.ToLower(strings.TrimSpace(alt))]; ok {
			alts[i] = expansion
		}
	}
	return strings.Join(alts, " or ")
}

// Serialise renders the database back to ini text, for GET /aliases.
func (a *Aliases) Serialise() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sb strings.Builder
	for _, code := range types.QueryCodes {
		entries := a.byCode[code]
		if len(entries) == 0 {
			continue
		}
		sb.WriteString("[" + code.String() + "]\n")
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		// stable output for diffing
		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				if names[j] < names[i] {
					names[i], names[j] = names[j], names[i]
				}
			}
		}
		for _, name := range names {
			sb.WriteString(name + " = " + entries[name] + "\n")
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String())
}
