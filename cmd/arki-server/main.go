// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// arki-server exposes a dataset pool over the HTTP wire protocol
// consumed by remote datasets and the arki-query client.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/ARPA-SIMC/arkimet/internal/api"
	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
)

var (
	flagConfig  string
	flagAddr    string
	flagVerbose bool
	flagDebug   bool
	flagLogDate bool
)

func cliInit() {
	flag.StringVar(&flagConfig, "config", "", "Sections file naming the datasets to serve")
	flag.StringVar(&flagAddr, "addr", ":8080", "Listen address")
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

	if flagConfig == "" {
		fmt.Fprintln(os.Stderr, "arki-server: -config is required")
		os.Exit(1)
	}
	configs, err := config.ReadSections(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arki-server: cannot read %s: %v\n", flagConfig, err)
		os.Exit(1)
	}

	session := dataset.NewSession()
	defer session.Close()
	pool := dataset.NewPool(session, configs)
	defer pool.Close()

	server := api.New(pool)
	log.Infof("serving %d datasets on %s", len(configs), flagAddr)
	if err := http.ListenAndServe(flagAddr, server.Handler()); err != nil {
		log.Fatalf("arki-server: %v", err)
	}
}
