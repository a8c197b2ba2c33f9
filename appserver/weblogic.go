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
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"gopkg.in/ini.v1"
)

const (
	webLogicDefaultHTTPPort   = "7001"
	webLogicDefaultHTTPSPort  = "7002"
	webLogicDomainRegistry    = "domain-registry.xml"
	webLogicNodemanagerDomain = "wlserver_10.3/common/nodemanager/nodemanager.domains"
	webLogicConfigXML         = "config/config.xml"
	webLogicServersDir        = "servers"

	WebLogicServerAdmin   = "Admin"
	WebLogicServerManaged = "Managed"
)

type WebLogic struct {
	deps   Deps
	logger log.Logger
}

type webLogicServer struct {
	name       string
	httpPort   string
	httpsPort  string
	sslEnabled bool
}

func NewWebLogic(deps Deps, logger log.Logger) *WebLogic {
	return &WebLogic{deps: deps, logger: log.With(logger, "family", TypeWebLogic)}
}

func (w *WebLogic) Type() string {
	return TypeWebLogic
}

// GetInstances treats each candidate path as a WebLogic home and returns one
// instance per server of each domain registered there.
func (w *WebLogic) GetInstances(ctx context.Context, candidates []Candidate) []*Instance {
	var homes []string
	for _, c := range uniqueCandidates(candidates) {
		homes = append(homes, c.Path)
	}
	var instances []*Instance
	for _, home := range sortedUnique(homes) {
		for _, domain := range w.domains(home) {
			instances = append(instances, w.domainInstances(domain)...)
		}
	}
	return uniqueInstances(instances)
}

// domains lists the domain directories from the domain registry and the node
// manager domains file, sorted and without duplicates.
func (w *WebLogic) domains(home string) []string {
	var domains []string
	registry := loadXML(w.deps, w.logger, filepath.Join(home, webLogicDomainRegistry), "domain-registry")
	for _, d := range registry.children("domain") {
		if location := strings.TrimSpace(d.attrValue("location")); location != "" {
			domains = append(domains, location)
		}
	}
	domains = append(domains, w.nodemanagerDomains(filepath.Join(home, webLogicNodemanagerDomain))...)
	for i, d := range domains {
		domains[i] = strings.TrimSuffix(filepath.Clean(d), "/")
	}
	domains = sortedUnique(domains)
	level.Debug(w.logger).Log("msg", "Found domains", "home", home, "count", len(domains))
	return domains
}

func (w *WebLogic) nodemanagerDomains(path string) []string {
	data, ok := readFile(w.deps, w.logger, path)
	if !ok {
		return nil
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		level.Error(w.logger).Log("msg", "Could not load node manager domains", "path", path, "err", err)
		return nil
	}
	var domains []string
	for _, key := range cfg.Section("").Keys() {
		value := strings.NewReplacer(`\:`, ":", `\\`, `\`).Replace(key.Value())
		if value != "" {
			domains = append(domains, value)
		}
	}
	return domains
}

func (w *WebLogic) domainInstances(domainDir string) []*Instance {
	domain := loadXML(w.deps, w.logger, filepath.Join(domainDir, webLogicConfigXML), "domain")
	if domain == nil {
		return nil
	}
	var version, adminServer string
	if v := domain.child("domain-version"); v != nil {
		version = v.text()
	}
	if a := domain.child("admin-server-name"); a != nil {
		adminServer = a.text()
	}
	var instances []*Instance
	for _, s := range domain.children("server") {
		server := parseWebLogicServer(s)
		pathOnDisk := withTrailingSlash(filepath.Join(domainDir, webLogicServersDir, server.name))
		if server.name == "" || !w.deps.PathExists(pathOnDisk) {
			level.Debug(w.logger).Log("msg", "Server directory does not exist, ignoring", "path", pathOnDisk)
			continue
		}
		isAdmin := server.name == adminServer
		inst := NewInstance(pathOnDisk, TypeWebLogic)
		inst.IsRunning = false
		inst.Server = WebLogicServerManaged
		if isAdmin {
			inst.Server = WebLogicServerAdmin
		}
		inst.SetVersion(version)
		inst.MajorVersion = webLogicMajorVersion(version)
		if inst.Version != "" {
			inst.HTTPPort = server.httpPort
			if isAdmin && inst.HTTPPort == "" {
				inst.HTTPPort = webLogicDefaultHTTPPort
			}
			if server.sslEnabled {
				inst.HTTPSPort = server.httpsPort
				if inst.HTTPSPort == "" {
					inst.HTTPSPort = webLogicDefaultHTTPSPort
				}
			}
		}
		instances = append(instances, inst)
	}
	return instances
}

func parseWebLogicServer(s *element) webLogicServer {
	server := webLogicServer{sslEnabled: true}
	if n := s.child("name"); n != nil {
		server.name = n.text()
	}
	if p := s.child("listen-port"); p != nil {
		server.httpPort = parsePort(p.text())
	}
	if ssl := s.child("ssl"); ssl != nil {
		if e := ssl.child("enabled"); e != nil && strings.EqualFold(e.text(), "false") {
			server.sslEnabled = false
		}
		if p := ssl.child("listen-port"); p != nil {
			server.httpsPort = parsePort(p.text())
		}
	}
	return server
}

// webLogicMajorVersion maps a domain version to the product's branded
// release: 10.3.0 is 10 while later 10.3 and 10.x releases are 11g.
func webLogicMajorVersion(version string) string {
	if version == "" {
		return ""
	}
	parts := strings.Split(version, ".")
	if len(parts) < 3 {
		return parts[0]
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return parts[0]
	}
	minor, _ := strconv.Atoi(parts[1])
	revision, _ := strconv.Atoi(parts[2])
	switch {
	case major >= 1 && major <= 9:
		return parts[0]
	case major == 10:
		if minor < 3 || (minor == 3 && revision == 0) {
			return "10"
		}
		return "11"
	case major == 12:
		return "12"
	}
	return "11"
}
