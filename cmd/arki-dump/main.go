// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// arki-dump converts metadata and summary binary streams to their
// YAML form and back, and prints the alias database.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
)

var (
	flagSummary  bool
	flagFromYaml bool
	flagAliases  bool
	flagVerbose  bool
	flagDebug    bool
	flagLogDate  bool
)

func cliInit() {
	flag.BoolVar(&flagSummary, "summary", false, "The input is a summary stream")
	flag.BoolVar(&flagFromYaml, "from-yaml", false, "Convert YAML metadata back to the binary stream")
	flag.BoolVar(&flagAliases, "aliases", false, "Print the alias database and exit")
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

func openInput() (io.ReadCloser, error) {
	if flag.NArg() < 1 || flag.Arg(0) == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(flag.Arg(0))
}

func openOutput() (io.WriteCloser, error) {
	if flag.NArg() < 2 || flag.Arg(1) == "-" {
		return os.Stdout, nil
	}
	return os.Create(flag.Arg(1))
}

func run() int {
	if flagAliases {
		path := os.Getenv("ARKI_ALIASES")
		if path == "" {
			fmt.Fprintln(os.Stderr, "arki-dump: ARKI_ALIASES is not set")
			return 1
		}
		aliases, err := matcher.LoadAliases(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
			return 1
		}
		os.Stdout.Write(aliases.Serialise())
		return 0
	}

	in, err := openInput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
		return 1
	}
	defer in.Close()
	out, err := openOutput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
		return 1
	}
	w := bufio.NewWriter(out)
	defer func() {
		w.Flush()
		if out != os.Stdout {
			out.Close()
		}
	}()

	switch {
	case flagSummary:
		sum, err := summary.Read(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
			return 1
		}
		if err := sum.WriteYAML(w); err != nil {
			fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
			return 1
		}
	case flagFromYaml:
		err := metadata.ReadYAML(in, func(md *metadata.Metadata) (bool, error) {
			return true, md.Write(w)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
			return 1
		}
	default:
		err := metadata.Read(in, func(md *metadata.Metadata) (bool, error) {
			return true, md.WriteYAML(w)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
			return 1
		}
	}
	return 0
}
