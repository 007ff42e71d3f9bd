// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// arki-query runs a matcher expression against one or more datasets
// and streams back metadata, summaries or raw data.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

var (
	flagConfig      string
	flagData        bool
	flagInline      bool
	flagSummary     bool
	flagSummShort   bool
	flagYaml        bool
	flagSort        string
	flagPostprocess string
	flagMerged      bool
	flagOutput      string
	flagVerbose     bool
	flagDebug       bool
	flagLogDate     bool
)

func cliInit() {
	flag.StringVar(&flagConfig, "config", "", "Sections file naming the datasets to query; positional dataset paths are used otherwise")
	flag.BoolVar(&flagData, "data", false, "Output the raw message bytes instead of metadata")
	flag.BoolVar(&flagInline, "inline", false, "Embed the message bytes in the metadata stream")
	flag.BoolVar(&flagSummary, "summary", false, "Output a summary instead of the matching metadata")
	flag.BoolVar(&flagSummShort, "summary-short", false, "Output a short summary")
	flag.BoolVar(&flagYaml, "yaml", false, "Output metadata or summaries as YAML instead of binary")
	flag.StringVar(&flagSort, "sort", "", "Sort order: [interval:]key,-key,...")
	flag.StringVar(&flagPostprocess, "postprocess", "", "Pipe the results through this whitelisted postprocessor")
	flag.BoolVar(&flagMerged, "merged", false, "Interleave the results of all datasets")
	flag.StringVar(&flagOutput, "output", "", "Write the output here instead of standard output")
	flag.BoolVar(&flagVerbose, "verbose", false, "Verbose output")
	flag.BoolVar(&flagDebug, "debug", false, "Debug output")
	flag.BoolVar(&flagLogDate, "logdate", false, "Add date and time to log messages")
	flag.Parse()
}

func logLevel() string {
	switch {
	case flagDebug:
		return "debug"
	case flagVerbose:
		return "info"
	default:
		return "warn"
	}
}

func main() {
	godotenv.Load()
	cliInit()
	log.Init(logLevel(), flagLogDate)

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "arki-query: usage: arki-query [options] <matcher> [dataset-path...]")
		os.Exit(1)
	}
	os.Exit(run(flag.Arg(0), flag.Args()[1:]))
}

func run(expr string, paths []string) int {
	session := dataset.NewSession()
	defer session.Close()

	m, err := session.Matcher(expr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arki-query: bad matcher %q: %v\n", expr, err)
		return 1
	}

	var configs []*config.Dataset
	if flagConfig != "" {
		byName, err := config.ReadSections(flagConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: cannot read %s: %v\n", flagConfig, err)
			return 1
		}
		for _, cfg := range byName {
			configs = append(configs, cfg)
		}
	}
	for _, path := range paths {
		cfg, err := config.ReadDataset(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: cannot read dataset %s: %v\n", path, err)
			return 1
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		fmt.Fprintln(os.Stderr, "arki-query: no datasets to query")
		return 1
	}

	out := os.Stdout
	if flagOutput != "" {
		f, err := os.Create(flagOutput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	q := dataset.Query{Matcher: m, WithData: flagInline}
	if flagSort != "" {
		if q.Sort, err = dataset.ParseSort(flagSort); err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: bad sort %q: %v\n", flagSort, err)
			return 1
		}
	}

	var readers []dataset.Reader
	failures := 0
	for _, cfg := range configs {
		r, err := session.OpenReader(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: dataset %s: cannot open: %v\n", cfg.Name, err)
			failures++
			continue
		}
		readers = append(readers, r)
	}
	if len(readers) == 0 {
		return 1
	}

	var target dataset.Reader
	if flagMerged || len(readers) > 1 {
		target = dataset.NewMergedReader(readers)
	} else {
		target = readers[0]
	}
	defer target.Close()

	switch {
	case flagSummary || flagSummShort:
		sum, err := target.QuerySummary(m)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: summary failed: %v\n", err)
			return 1
		}
		if flagSummShort {
			err = sum.Shorten().WriteYAML(w)
		} else if flagYaml {
			err = sum.WriteYAML(w)
		} else {
			err = sum.Write(w)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: %v\n", err)
			return 1
		}
	case flagPostprocess != "":
		if err := dataset.QueryBytesPostprocess(target, q, flagPostprocess, w); err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: %v\n", err)
			return 1
		}
	case flagData:
		if err := dataset.QueryBytes(target, q, w); err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: %v\n", err)
			return 1
		}
	default:
		err := target.QueryData(q, func(md *metadata.Metadata) (bool, error) {
			if flagYaml {
				return true, md.WriteYAML(w)
			}
			return true, md.Write(w)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-query: %v\n", err)
			return 1
		}
	}

	if failures > 0 {
		return 2
	}
	return 0
}
