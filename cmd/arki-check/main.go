// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// arki-check maintains consistency between dataset indices and their
// segments: state reports, repack, archive aging and targeted
// repairs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/internal/taskmanager"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
)

var (
	flagFix       bool
	flagRepack    bool
	flagRemoveOld bool
	flagArchive   bool
	flagIssue51   bool
	flagWatch     string
	flagConfig    string
	flagVerbose   bool
	flagDebug     bool
	flagLogDate   bool
)

func cliInit() {
	flag.BoolVar(&flagFix, "fix", false, "Repair what the selected operation finds instead of only reporting")
	flag.BoolVar(&flagRepack, "repack", false, "Rewrite segments with reclaimable space")
	flag.BoolVar(&flagRemoveOld, "remove-old", false, "Delete segments past the delete age")
	flag.BoolVar(&flagArchive, "archive", false, "Move segments past the archive age under .archive/last")
	flag.BoolVar(&flagIssue51, "issue51", false, "Verify (and with -fix restore) the end-of-message markers")
	flag.StringVar(&flagWatch, "watch", "", "Keep running, scheduling maintenance with this cron expression")
	flag.StringVar(&flagConfig, "config", "", "Sections file naming the datasets; positional dataset paths are used otherwise")
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
	os.Exit(run())
}

func loadConfigs() (map[string]*config.Dataset, error) {
	configs := make(map[string]*config.Dataset)
	if flagConfig != "" {
		byName, err := config.ReadSections(flagConfig)
		if err != nil {
			return nil, err
		}
		for name, cfg := range byName {
			configs[name] = cfg
		}
	}
	for _, path := range flag.Args() {
		cfg, err := config.ReadDataset(path)
		if err != nil {
			return nil, err
		}
		configs[cfg.Name] = cfg
	}
	return configs, nil
}

func run() int {
	configs, err := loadConfigs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arki-check: %v\n", err)
		return 1
	}
	if len(configs) == 0 {
		fmt.Fprintln(os.Stderr, "arki-check: no datasets given")
		return 1
	}

	session := dataset.NewSession()
	defer session.Close()
	pool := dataset.NewPool(session, configs)
	defer pool.Close()

	if flagWatch != "" {
		tm, err := taskmanager.New(pool)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-check: %v\n", err)
			return 1
		}
		if err := tm.AddMaintenance(flagWatch); err != nil {
			fmt.Fprintf(os.Stderr, "arki-check: bad cron expression %q: %v\n", flagWatch, err)
			return 1
		}
		tm.Start()
		defer tm.Shutdown()
		select {} // run until killed
	}

	failed := 0
	for _, name := range pool.Names() {
		if err := checkDataset(pool, name); err != nil {
			fmt.Fprintf(os.Stderr, "arki-check: dataset %s: %v\n", name, err)
			failed++
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func checkDataset(pool *dataset.Pool, name string) error {
	checker, err := pool.Checker(name)
	if err != nil {
		return err
	}
	rep := func(relpath string, state segment.State, msg string) {
		if msg == "" {
			fmt.Printf("%s: %s: %s\n", name, relpath, state)
		} else {
			fmt.Printf("%s: %s: %s: %s\n", name, relpath, state, msg)
		}
	}

	switch {
	case flagRepack:
		freed, err := checker.Repack(flagFix, rep)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d bytes freed\n", name, freed)
	case flagRemoveOld:
		freed, err := checker.RemoveOld(flagFix, rep)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d bytes freed\n", name, freed)
	case flagArchive:
		if err := checker.Archive(rep); err != nil {
			return err
		}
	case flagIssue51:
		if err := checker.CheckIssue51(flagFix, rep); err != nil {
			return err
		}
	default:
		if err := checker.Check(flagFix, rep); err != nil {
			return err
		}
	}
	return nil
}
