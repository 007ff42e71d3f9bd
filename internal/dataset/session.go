// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/lrucache"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
)

const (
	sessionReaderSlots   = 64
	segmentReaderBudget  = 128
	segmentReaderOneSize = 1
)

// Session owns the shared caches of one unit of work: the matcher
// alias database, an LRU of opened dataset readers, and a
// segment-reader pool keyed by absolute path so overlapping queries
// share one open descriptor and one decompressor state. A session
// must stay within one task; concurrent tasks open their own
// sessions against the same on-disk datasets.
type Session struct {
	aliases    *matcher.Aliases
	readers    *lru.Cache[string, Reader]
	segReaders *lrucache.Cache[segment.Reader]
}

// NewSession builds a session, loading the alias database from
// ARKI_ALIASES when set.
func NewSession() *Session {
	s := &Session{aliases: matcher.NewAliases()}
	if path := os.Getenv("ARKI_ALIASES"); path != "" {
		aliases, err := matcher.LoadAliases(path)
		if err != nil {
			log.Warnf("cannot load alias database from %s: %v", path, err)
		} else {
			s.aliases = aliases
		}
	}
	s.readers, _ = lru.NewWithEvict(sessionReaderSlots, func(name string, r Reader) {
		if err := r.Close(); err != nil {
			log.Warnf("closing evicted reader %s: %v", name, err)
		}
	})
	s.segReaders = lrucache.New[segment.Reader](segmentReaderBudget, func(r segment.Reader) {
		r.Close()
	})
	return s
}

// Aliases returns the alias database snapshot.
func (s *Session) Aliases() *matcher.Aliases {
	return s.aliases
}

// SetAliases atomically replaces the alias database.
func (s *Session) SetAliases(a *matcher.Aliases) {
	s.aliases = a
}

// Matcher compiles an expression with the session's aliases.
func (s *Session) Matcher(expr string) (matcher.Matcher, error) {
	return matcher.Parse(expr, s.aliases)
}

// Reader returns a cached dataset reader, opening it on a miss.
func (s *Session) Reader(cfg *config.Dataset) (Reader, error) {
	key := cfg.Name + "\x00" + cfg.Path
	if r, ok := s.readers.Get(key); ok {
		return r, nil
	}
	r, err := s.OpenReader(cfg)
	if err != nil {
		return nil, err
	}
	s.readers.Add(key, r)
	return r, nil
}

// SegmentReader returns a pooled segment reader; the release function
// must be called when iteration is done. A reader evicted from the
// pool while still in use stays valid until its last release.
func (s *Session) SegmentReader(format, abspath string) (segment.Reader, func(), error) {
	r, err := s.segReaders.Get(abspath, func() (segment.Reader, int, error) {
		r, err := segment.OpenReader(format, abspath)
		if err != nil {
			return nil, 0, err
		}
		return r, segmentReaderOneSize, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { s.segReaders.Release(abspath) }, nil
}

// InvalidateSegmentReader drops a pooled reader after its segment
// changed on disk.
func (s *Session) InvalidateSegmentReader(abspath string) {
	s.segReaders.Remove(abspath)
}

// Close releases every cached handle.
func (s *Session) Close() {
	s.readers.Purge()
	s.segReaders.Clear()
}
