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

package collectors

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/OSC/appserver_exporter/appserver"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/procfs"
	"gopkg.in/alecthomas/kingpin.v2"
)

const (
	jbossMainClass     = "org.jboss.Main"
	jboss7MainClass    = "org.jboss.as.standalone"
	jbossModulesJar    = "jboss-modules.jar"
	jbossRunJar        = "/bin/run.jar"
	tomcatMainClass    = "org.apache.catalina.startup.Bootstrap"
	webLogicMainClass  = "weblogic.Server"
	webSphereMainClass = "com.ibm.ws.runtime.WsServer"
	// user_projects/domains/<domain>/servers/<server>/data/nodemanager/boot.properties
	webLogicBootIdentityDepth = 8
)

var (
	processTimeout = kingpin.Flag("collector.process.timeout", "Timeout for scanning java processes in seconds").Default("10").Envar("PROCESS_TIMEOUT").Int()
	procFS         = kingpin.Flag("path.procfs", "procfs mountpoint").Default(procfs.DefaultMountPoint).Envar("PROCFS_PATH").String()
	errScanTimeout = errors.New("timeout scanning processes")
)

// ProcessScanner finds application server candidates on the command lines of
// running java processes.
type ProcessScanner struct {
	static map[string][]appserver.Candidate
	logger log.Logger
}

type scanResult struct {
	candidates map[string][]appserver.Candidate
	err        error
}

// NewProcessScanner returns a scanner that adds static candidates, keyed by
// server type, to those found running.
func NewProcessScanner(static map[string][]appserver.Candidate, logger log.Logger) *ProcessScanner {
	return &ProcessScanner{static: static, logger: logger}
}

// Scan returns candidates by server type. When the process scan fails or
// times out only the static candidates are returned, along with the error.
func (s *ProcessScanner) Scan(ctx context.Context) (map[string][]appserver.Candidate, error) {
	level.Debug(s.logger).Log("msg", "Scanning java processes", "procfs", *procFS)
	c1 := make(chan scanResult, 1)
	go func() {
		candidates, err := getCandidates(s.logger)
		c1 <- scanResult{candidates: candidates, err: err}
	}()
	var result scanResult
	select {
	case result = <-c1:
	case <-time.After(time.Duration(*processTimeout) * time.Second):
		level.Error(s.logger).Log("msg", "Timeout scanning java processes")
		result.err = errScanTimeout
	case <-ctx.Done():
		result.err = ctx.Err()
	}
	if result.err != nil {
		result.candidates = nil
	}
	merged := make(map[string][]appserver.Candidate)
	for t, c := range result.candidates {
		merged[t] = append(merged[t], c...)
	}
	for t, c := range s.static {
		merged[t] = append(merged[t], c...)
	}
	return merged, result.err
}

func getCandidates(logger log.Logger) (map[string][]appserver.Candidate, error) {
	fs, err := procfs.NewFS(*procFS)
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}
	candidates := make(map[string][]appserver.Candidate)
	for _, proc := range procs {
		args, err := proc.CmdLine()
		if err != nil || len(args) == 0 {
			continue
		}
		if filepath.Base(args[0]) != "java" {
			continue
		}
		serverType, c, ok := parseJavaCommandLine(args, logger)
		if !ok {
			level.Debug(logger).Log("msg", "Skip java process that is not an application server", "pid", proc.PID)
			continue
		}
		level.Debug(logger).Log("msg", "Found application server process", "pid", proc.PID, "type", serverType, "path", c.Path)
		candidates[serverType] = append(candidates[serverType], c)
	}
	return candidates, nil
}

// parseJavaCommandLine classifies a java command line and extracts the
// install locations it names.
func parseJavaCommandLine(args []string, logger log.Logger) (string, appserver.Candidate, bool) {
	switch {
	case argIndex(args, jbossMainClass) >= 0:
		classpath := ParseCommandLineArg(args, "-classpath", true, true)
		if classpath == "" {
			classpath = ParseCommandLineArg(args, "-cp", true, true)
		}
		root := jbossRootFromClassPath(classpath)
		if root == "" {
			return "", appserver.Candidate{}, false
		}
		config := ParseCommandLineArg(args, "-c", false, true)
		if config == "" {
			config = ParseCommandLineArg(args, "-Djboss.server.name", true, false)
		}
		return appserver.TypeJBoss, appserver.Candidate{
			Path:       root,
			Config:     config,
			BindingSet: ParseCommandLineArg(args, "-Djboss.service.binding.set", true, false),
		}, true
	case argIndex(args, jboss7MainClass) >= 0 || strings.Contains(strings.Join(args, " "), jbossModulesJar):
		root := ParseCommandLineArg(args, "-Djboss.home.dir", true, false)
		if root == "" {
			return "", appserver.Candidate{}, false
		}
		config := strings.TrimPrefix(ParseCommandLineArg(args, "-Dlogging.configuration", true, false), "file:")
		if config == "" {
			config = filepath.Join(root, "standalone", "configuration") + "/"
		}
		return appserver.TypeJBoss, appserver.Candidate{Path: strings.TrimSuffix(root, "/") + "/", Config: config}, true
	case argIndex(args, tomcatMainClass) >= 0:
		home := ParseCommandLineArg(args, "-Dcatalina.home", true, true)
		if home == "" {
			return "", appserver.Candidate{}, false
		}
		return appserver.TypeTomcat, appserver.Candidate{
			Path:   home,
			Config: ParseCommandLineArg(args, "-Dcatalina.base", true, true),
		}, true
	case argIndex(args, webLogicMainClass) >= 0:
		if home := ParseCommandLineArg(args, "-Dplatform.home", true, true); home != "" {
			return appserver.TypeWebLogic, appserver.Candidate{Path: parentDirectory(home, 1)}, true
		}
		if bootID := ParseCommandLineArg(args, "-Dweblogic.system.BootIdentityFile", true, true); bootID != "" {
			return appserver.TypeWebLogic, appserver.Candidate{Path: parentDirectory(bootID, webLogicBootIdentityDepth)}, true
		}
		level.Debug(logger).Log("msg", "WebLogic process without platform.home or weblogic.system.BootIdentityFile")
		return "", appserver.Candidate{}, false
	case argIndex(args, webSphereMainClass) >= 0:
		idx := argIndex(args, webSphereMainClass)
		root := ParseCommandLineArg(args, "-Dserver.root", true, true)
		if root == "" || len(args) < idx+5 {
			return "", appserver.Candidate{}, false
		}
		return appserver.TypeWebSphere, appserver.Candidate{
			Path:    root,
			Profile: filepath.Base(root),
			Cell:    args[idx+2],
			Node:    args[idx+3],
			Server:  args[idx+4],
		}, true
	}
	return "", appserver.Candidate{}, false
}

// ParseCommandLineArg returns the value of key in args. With
// equalsDelimited the value may follow as key=value, with spaceDelimited it
// may be the next argument or follow a space inside the same argument.
func ParseCommandLineArg(args []string, key string, equalsDelimited, spaceDelimited bool) string {
	for i, arg := range args {
		if arg == key && spaceDelimited {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if len(arg) > len(key)+1 && strings.HasPrefix(arg, key) {
			sep := arg[len(key)]
			if (equalsDelimited && sep == '=') || (spaceDelimited && sep == ' ') {
				return arg[len(key)+1:]
			}
		}
	}
	return ""
}

func argIndex(args []string, value string) int {
	for i, arg := range args {
		if arg == value {
			return i
		}
	}
	return -1
}

// jbossRootFromClassPath returns the directory holding bin/run.jar, with a
// trailing slash.
func jbossRootFromClassPath(classpath string) string {
	for _, part := range strings.Split(classpath, ":") {
		if idx := strings.Index(part, jbossRunJar); idx >= 0 {
			return part[:idx+1]
		}
	}
	return ""
}

// parentDirectory removes levels trailing elements from path.
func parentDirectory(path string, levels int) string {
	p := strings.TrimSuffix(path, "/")
	for i := 0; i < levels; i++ {
		idx := strings.LastIndex(p, "/")
		if idx < 0 {
			return ""
		}
		p = p[:idx]
	}
	return p
}
