// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// arki-scan reads files of weather data, decodes each message's
// metadata, and either prints the metadata stream or dispatches the
// messages into the configured datasets.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/internal/dispatch"
	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

var (
	flagDispatch string
	flagCopyOK   string
	flagCopyKo   string
	flagVerbose  bool
	flagDebug    bool
	flagLogDate  bool
)

func cliInit() {
	flag.StringVar(&flagDispatch, "dispatch", "", "Dispatch scanned messages into the datasets of this sections file")
	flag.StringVar(&flagCopyOK, "copyok", "", "Append the metadata of successfully dispatched messages to this file")
	flag.StringVar(&flagCopyKo, "copyko", "", "Append the metadata of rejected messages to this file")
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

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "arki-scan: no input files")
		os.Exit(1)
	}

	if flagDispatch == "" {
		os.Exit(runPrint(flag.Args()))
	}
	os.Exit(runDispatch(flag.Args()))
}

// runPrint scans and writes the metadata stream, messages inlined.
func runPrint(files []string) int {
	for _, path := range files {
		err := scan.File(path, func(md *metadata.Metadata, data []byte) (bool, error) {
			format, _ := scan.FormatForFile(path)
			md.SetInlineData(format, data)
			if err := md.Write(os.Stdout); err != nil {
				return false, err
			}
			return true, nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-scan: %s: %v\n", path, err)
			return 1
		}
	}
	return 0
}

func runDispatch(files []string) int {
	configs, err := config.ReadSections(flagDispatch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arki-scan: cannot read %s: %v\n", flagDispatch, err)
		return 1
	}
	session := dataset.NewSession()
	defer session.Close()
	pool := dataset.NewPool(session, configs)
	defer pool.Close()

	d, err := dispatch.New(pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arki-scan: %v\n", err)
		return 1
	}
	if flagCopyOK != "" {
		f, err := os.OpenFile(flagCopyOK, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-scan: %v\n", err)
			return 1
		}
		defer f.Close()
		d.CopyOK = f
	}
	if flagCopyKo != "" {
		f, err := os.OpenFile(flagCopyKo, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-scan: %v\n", err)
			return 1
		}
		defer f.Close()
		d.CopyKo = f
	}

	for _, path := range files {
		err := scan.File(path, func(md *metadata.Metadata, data []byte) (bool, error) {
			d.Dispatch(&dataset.Inbound{MD: md, Data: data})
			return true, nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-scan: %s: %v\n", path, err)
			return 1
		}
	}
	if err := d.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "arki-scan: flush: %v\n", err)
		return 1
	}
	log.Infof("dispatch: %s", d.Summary())
	if d.CountDuplicate > 0 || d.CountError > 0 {
		return 3
	}
	return 0
}
