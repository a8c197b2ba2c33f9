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

package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OSC/appserver_exporter/appserver"
	"github.com/OSC/appserver_exporter/collectors"
	"github.com/OSC/appserver_exporter/provider"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/promlog"
	"github.com/prometheus/common/promlog/flag"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v2"
)

var (
	listenAddr   = kingpin.Flag("web.listen-address", "Address on which to expose metrics and web interface.").Default(":9312").Envar("LISTEN_ADDRESS").String()
	configFile   = kingpin.Flag("config.file", "Path to exporter configuration file").Default("").Envar("CONFIG_FILE").String()
	stateFile    = kingpin.Flag("state.file", "Path to the instance cache, empty to disable caching").Default("~/.appserver_exporter/instances.yml").Envar("STATE_FILE").String()
	probeTimeout = kingpin.Flag("collector.probe.timeout", "Timeout for JBoss version probes in seconds").Default("10").Envar("PROBE_TIMEOUT").Int()
)

type Config struct {
	// Families restricts discovery to these server types, all when empty.
	Families   []string          `yaml:"families"`
	Candidates []CandidateConfig `yaml:"candidates"`
}

// CandidateConfig is an installation to look at whether or not it runs. Type
// is detected from the files present when empty.
type CandidateConfig struct {
	Type                string `yaml:"type"`
	appserver.Candidate `yaml:",inline"`
}

func loadConfig(path string, logger log.Logger) (Config, error) {
	var config Config
	if path == "" {
		return config, nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return config, err
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return config, fmt.Errorf("parsing %s: %w", path, err)
	}
	level.Debug(logger).Log("msg", "Loaded config", "path", path, "families", strings.Join(config.Families, ","), "candidates", len(config.Candidates))
	return config, nil
}

// expandPath resolves ~ and ** style globs to existing paths. A path without
// glob characters is returned as is.
func expandPath(path string) ([]string, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if !strings.ContainsAny(path, "*?[{") {
		return []string{path}, nil
	}
	return doublestar.FilepathGlob(path)
}

func staticCandidates(config Config, deps appserver.Deps, logger log.Logger) map[string][]appserver.Candidate {
	candidates := make(map[string][]appserver.Candidate)
	for _, cc := range config.Candidates {
		paths, err := expandPath(cc.Path)
		if err != nil {
			level.Error(logger).Log("msg", "Invalid candidate path", "path", cc.Path, "err", err)
			continue
		}
		for _, c := range appserver.CandidatesFromPaths(paths...) {
			c.Config, c.BindingSet = cc.Config, cc.BindingSet
			c.Profile, c.Cell, c.Node, c.Server = cc.Profile, cc.Cell, cc.Node, cc.Server
			serverType := cc.Type
			if serverType == "" {
				serverType = appserver.DetectType(deps, c.Path)
			}
			if serverType == "" {
				level.Info(logger).Log("msg", "Unable to detect application server type, skipping", "path", c.Path)
				continue
			}
			candidates[serverType] = append(candidates[serverType], c)
		}
	}
	return candidates
}

func enabledFamilies(config Config, deps appserver.Deps, logger log.Logger) []appserver.Family {
	all := appserver.NewFamilies(deps, logger)
	if len(config.Families) == 0 {
		return all
	}
	var families []appserver.Family
	for _, f := range all {
		for _, name := range config.Families {
			if strings.EqualFold(name, f.Type()) {
				families = append(families, f)
				break
			}
		}
	}
	return families
}

func newStore(path string, deps appserver.Deps, logger log.Logger) (*appserver.Store, error) {
	if path == "" {
		return nil, nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	return appserver.NewStore(path, deps, logger), nil
}

func writeJSON(w http.ResponseWriter, logger log.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(logger).Log("msg", "Error writing response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch provider.CodeOf(err) {
	case provider.NotFound:
		status = http.StatusNotFound
	case provider.InvalidParameter:
		status = http.StatusBadRequest
	case provider.NotSupported:
		status = http.StatusNotImplemented
	}
	http.Error(w, err.Error(), status)
}

func instancesHandler(p *provider.Provider, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if name, ok := query["name"]; ok {
			props, err := p.GetInstance(r.Context(), name[0])
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, logger, props)
			return
		}
		keysOnly, _ := strconv.ParseBool(query.Get("keys_only"))
		var instances []provider.Properties
		var err error
		if keysOnly {
			instances, err = p.EnumerateInstanceNames(r.Context())
		} else {
			instances, err = p.EnumerateInstances(r.Context(), false)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, logger, instances)
	}
}

func deepMonitoringHandler(p *provider.Provider, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		args := map[string]interface{}{"id": r.PostForm.Get("id")}
		if deep, err := strconv.ParseBool(r.PostForm.Get("deep")); err == nil {
			args["deep"] = deep
		}
		if protocol := r.PostForm.Get("protocol"); protocol != "" {
			args["protocol"] = protocol
		}
		result, err := p.InvokeMethod(r.Context(), provider.MethodSetDeepMonitoring, args)
		if err != nil {
			writeError(w, err)
			return
		}
		level.Info(logger).Log("msg", "SetDeepMonitoring", "id", args["id"], "result", result["MIReturn"])
		writeJSON(w, logger, result)
	}
}

func main() {
	metricsEndpoint := "/metrics"
	promlogConfig := &promlog.Config{}
	flag.AddFlags(kingpin.CommandLine, promlogConfig)
	kingpin.Version(version.Print("appserver_exporter"))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := promlog.New(promlogConfig)
	level.Info(logger).Log("msg", "Starting appserver_exporter", "version", version.Info())
	level.Info(logger).Log("msg", "Build context", "build_context", version.BuildContext())
	level.Info(logger).Log("msg", "Starting Server", "address", *listenAddr)

	config, err := loadConfig(*configFile, logger)
	if err != nil {
		level.Error(logger).Log("msg", "Error loading config", "err", err)
		os.Exit(1)
	}
	deps := appserver.NewOSDeps(logger, time.Duration(*probeTimeout)*time.Second)
	store, err := newStore(*stateFile, deps, logger)
	if err != nil {
		level.Error(logger).Log("msg", "Invalid state file", "err", err)
		os.Exit(1)
	}
	scanner := collectors.NewProcessScanner(staticCandidates(config, deps, logger), logger)
	p := provider.New(enabledFamilies(config, deps, logger), scanner, store, deps, logger)

	prometheus.MustRegister(collectors.NewCollector(p, logger))
	prometheus.MustRegister(version.NewCollector("appserver_exporter"))

	http.Handle(metricsEndpoint, promhttp.Handler())
	http.Handle("/instances", instancesHandler(p, logger))
	http.Handle("/deep-monitoring", deepMonitoringHandler(p, logger))
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		//nolint:errcheck
		w.Write([]byte(`<html>
             <head><title>Application Server Exporter</title></head>
             <body>
             <h1>Application Server Exporter</h1>
             <p><a href='` + metricsEndpoint + `'>Metrics</a></p>
             <p><a href='/instances'>Instances</a></p>
             </body>
             </html>`))
	})
	if err := http.ListenAndServe(*listenAddr, nil); err != nil {
		level.Error(logger).Log("msg", "Error starting HTTP server", "err", err)
		os.Exit(1)
	}
}
