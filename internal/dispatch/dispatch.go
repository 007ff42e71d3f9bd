// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch routes scanned records to the dataset whose filter
// accepts them, with the error and duplicates datasets taking what no
// regular dataset can.
package dispatch

import (
	"fmt"
	"io"
	"sort"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

// Outcome is the per-record dispatch result.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeDuplicate
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeDuplicate:
		return "DUPLICATE"
	default:
		return "ERROR"
	}
}

// ErrorDataset and DuplicatesDataset are the reserved dataset names
// the dispatcher routes rejects to.
const (
	ErrorDataset      = "error"
	DuplicatesDataset = "duplicates"
)

// Dispatcher owns a pool of dataset writers plus the two distinguished
// routes.
type Dispatcher struct {
	pool    *dataset.Pool
	filters map[string]matcher.Matcher
	names   []string

	// CopyOK and CopyKo, when set, receive a copy of each record's
	// metadata after routing: successes to CopyOK, rejects to CopyKo.
	CopyOK io.Writer
	CopyKo io.Writer

	// Counters of routed records by outcome.
	CountOK        int
	CountDuplicate int
	CountError     int
}

// New builds a dispatcher over the pool, compiling each non-system
// dataset's filter.
func New(pool *dataset.Pool) (*Dispatcher, error) {
	d := &Dispatcher{
		pool:    pool,
		filters: make(map[string]matcher.Matcher),
	}
	for _, name := range pool.Names() {
		if name == ErrorDataset || name == DuplicatesDataset {
			continue
		}
		cfg, err := pool.Config(name)
		if err != nil {
			return nil, err
		}
		if cfg.Type == "empty" || cfg.Type == "remote" {
			continue
		}
		m, err := pool.Session().Matcher(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: bad filter: %v", name, err)
		}
		d.filters[name] = m
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)
	return d, nil
}

// Dispatch routes one record and returns where it went.
func (d *Dispatcher) Dispatch(in *dataset.Inbound) (Outcome, string) {
	var acceptors []string
	for _, name := range d.names {
		if d.filters[name].Match(in.MD) {
			acceptors = append(acceptors, name)
		}
	}

	var outcome Outcome
	var target string
	switch len(acceptors) {
	case 1:
		outcome, target = d.acquireInto(acceptors[0], in)
	case 0:
		in.MD.AddNote("not accepted by any dataset")
		outcome, target = d.routeError(in)
	default:
		// ambiguity is a configuration bug; shout and keep the record
		// recoverable
		log.Warnf("record %s accepted by multiple datasets: %v", in.MD, acceptors)
		in.MD.AddNote(fmt.Sprintf("accepted by multiple datasets: %v", acceptors))
		outcome, target = d.routeError(in)
	}

	switch outcome {
	case OutcomeOK:
		d.CountOK++
		metricDispatched.WithLabelValues(target, "ok").Inc()
		d.tee(d.CopyOK, in.MD)
	case OutcomeDuplicate:
		d.CountDuplicate++
		metricDispatched.WithLabelValues(target, "duplicate").Inc()
		d.tee(d.CopyKo, in.MD)
	default:
		d.CountError++
		metricDispatched.WithLabelValues(target, "error").Inc()
		d.tee(d.CopyKo, in.MD)
	}
	return outcome, target
}

func (d *Dispatcher) acquireInto(name string, in *dataset.Inbound) (Outcome, string) {
	w, err := d.pool.Writer(name)
	if err != nil {
		log.Errorf("dataset %s: cannot open writer: %v", name, err)
		in.MD.AddNote(fmt.Sprintf("cannot open dataset %s: %v", name, err))
		return d.routeError(in)
	}
	res, err := w.Acquire(in, config.ReplaceDefault)
	switch res {
	case dataset.AcquireOK:
		return OutcomeOK, name
	case dataset.AcquireDuplicate:
		in.MD.AddNote(fmt.Sprintf("duplicate in dataset %s", name))
		return d.routeDuplicates(in)
	default:
		log.Errorf("dataset %s: acquire failed: %v", name, err)
		in.MD.AddNote(fmt.Sprintf("failed to store in dataset %s: %v", name, err))
		return d.routeError(in)
	}
}

func (d *Dispatcher) routeDuplicates(in *dataset.Inbound) (Outcome, string) {
	if !d.pool.Has(DuplicatesDataset) {
		return d.routeErrorOutcome(in, OutcomeDuplicate)
	}
	w, err := d.pool.Writer(DuplicatesDataset)
	if err == nil {
		if res, _ := w.Acquire(in, config.ReplaceAlways); res == dataset.AcquireOK {
			return OutcomeDuplicate, DuplicatesDataset
		}
	}
	return d.routeErrorOutcome(in, OutcomeDuplicate)
}

func (d *Dispatcher) routeError(in *dataset.Inbound) (Outcome, string) {
	return d.routeErrorOutcome(in, OutcomeError)
}

func (d *Dispatcher) routeErrorOutcome(in *dataset.Inbound, outcome Outcome) (Outcome, string) {
	if !d.pool.Has(ErrorDataset) {
		log.Errorf("no error dataset configured; record %s is lost from the archive", in.MD)
		return outcome, ""
	}
	w, err := d.pool.Writer(ErrorDataset)
	if err != nil {
		log.Errorf("cannot open the error dataset: %v", err)
		return outcome, ""
	}
	if res, err := w.Acquire(in, config.ReplaceAlways); res != dataset.AcquireOK {
		log.Errorf("the error dataset rejected a record: %v", err)
		return outcome, ""
	}
	return outcome, ErrorDataset
}

func (d *Dispatcher) tee(w io.Writer, md *metadata.Metadata) {
	if w == nil {
		return
	}
	if err := md.Write(w); err != nil {
		log.Warnf("cannot copy routed metadata: %v", err)
	}
}

// DispatchBatch routes a batch, grouping dataset writes through the
// pool's open writers.
func (d *Dispatcher) DispatchBatch(batch []*dataset.Inbound) []Outcome {
	out := make([]Outcome, len(batch))
	for i, in := range batch {
		out[i], _ = d.Dispatch(in)
	}
	return out
}

// Flush commits all writers the dispatcher touched.
func (d *Dispatcher) Flush() error {
	return d.pool.Flush()
}

// Summary formats the outcome counters for the CLI.
func (d *Dispatcher) Summary() string {
	return fmt.Sprintf("%d ok, %d duplicates, %d errors",
		d.CountOK, d.CountDuplicate, d.CountError)
}
