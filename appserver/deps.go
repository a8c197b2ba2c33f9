// MIT License
//
// Copyright (c) 2020 Ohio Supercomputer Center
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package appserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// ErrFileNotFound is wrapped by OpenTextStream when the path does not exist.
var ErrFileNotFound = errors.New("file not found")

var execCommand = exec.CommandContext

// Deps gives parsers and enumerators access to configuration files and
// version probes.
type Deps interface {
	// OpenTextStream opens path for reading. An empty file is a valid empty
	// stream, a missing one is an error wrapping ErrFileNotFound.
	OpenTextStream(path string) (io.ReadCloser, error)
	// RunVersionProbe runs the product version command below installRoot
	// and returns its standard output, or "" when there is none.
	RunVersionProbe(ctx context.Context, installRoot string) string
	PathExists(path string) bool
}

type osDeps struct {
	logger       log.Logger
	probeTimeout time.Duration
}

// NewOSDeps returns Deps backed by the local filesystem. A positive
// probeTimeout bounds each version probe.
func NewOSDeps(logger log.Logger, probeTimeout time.Duration) Deps {
	return &osDeps{logger: logger, probeTimeout: probeTimeout}
}

func (d *osDeps) OpenTextStream(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *osDeps) PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (d *osDeps) RunVersionProbe(ctx context.Context, installRoot string) string {
	script := filepath.Join(installRoot, "bin", "standalone.sh")
	if !d.PathExists(script) {
		level.Debug(d.logger).Log("msg", "No version probe for install", "path", installRoot)
		return ""
	}
	if d.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.probeTimeout)
		defer cancel()
	}
	cmd := execCommand(ctx, script, "--version")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		level.Error(d.logger).Log("msg", "Version probe failed", "script", script, "err", err, "stderr", stderr.String())
		return ""
	}
	return stdout.String()
}

// readFile returns the content of path, or ok=false when it can't be read.
func readFile(deps Deps, logger log.Logger, path string) ([]byte, bool) {
	r, err := deps.OpenTextStream(path)
	if errors.Is(err, ErrFileNotFound) {
		level.Debug(logger).Log("msg", "File not found", "path", path)
		return nil, false
	}
	if err != nil {
		level.Error(logger).Log("msg", "Unable to open file", "path", path, "err", err)
		return nil, false
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		level.Error(logger).Log("msg", "Unable to read file", "path", path, "err", err)
		return nil, false
	}
	return data, true
}
