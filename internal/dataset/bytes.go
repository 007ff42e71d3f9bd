// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

// ErrPostproc is wrapped by postprocessor failures: not whitelisted,
// not found, or exited nonzero.
var ErrPostproc = errors.New("postprocessor error")

// QueryBytes streams the raw bytes of every matching message,
// concatenated in query order.
func QueryBytes(r Reader, q Query, w io.Writer) error {
	q.WithData = true
	return r.QueryData(q, func(md *metadata.Metadata) (bool, error) {
		if _, err := w.Write(md.Data()); err != nil {
			return false, err
		}
		return true, nil
	})
}

// lookupPostproc resolves a whitelisted postprocessor name to an
// executable, searching ARKI_POSTPROC when set.
func lookupPostproc(r Reader, name string) (string, error) {
	allowed := false
	for _, p := range r.Config().Postprocess {
		if p == name {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%q is not in the postprocess whitelist of dataset %s: %w", name, r.Name(), ErrPostproc)
	}
	if dir := os.Getenv("ARKI_POSTPROC"); dir != "" {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("postprocessor %q not found: %w", name, ErrPostproc)
	}
	return path, nil
}

// QueryBytesPostprocess pipes the matching metadata (with inline
// data) through a whitelisted postprocessor and copies its stdout to
// w. The command string is the processor name followed by its
// arguments.
func QueryBytesPostprocess(r Reader, q Query, command string, w io.Writer) error {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return fmt.Errorf("empty postprocessor command: %w", ErrPostproc)
	}
	path, err := lookupPostproc(r, parts[0])
	if err != nil {
		return err
	}

	cmd := exec.Command(path, parts[1:]...)
	cmd.Stdout = w
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting postprocessor %q: %w", parts[0], ErrPostproc)
	}

	q.WithData = true
	queryErr := r.QueryData(q, func(md *metadata.Metadata) (bool, error) {
		if err := md.Write(stdin); err != nil {
			// the child closing early is a cooperative stop, not a
			// failure of the query
			if errors.Is(err, io.ErrClosedPipe) || isEPIPE(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	stdin.Close()

	waitErr := cmd.Wait()
	if queryErr != nil {
		return queryErr
	}
	if waitErr != nil {
		log.Errorf("postprocessor %q failed: %v", parts[0], waitErr)
		return fmt.Errorf("postprocessor %q: %v: %w", parts[0], waitErr, ErrPostproc)
	}
	return nil
}

func isEPIPE(err error) bool {
	return err != nil && strings.Contains(err.Error(), "broken pipe")
}
