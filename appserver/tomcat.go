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
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

const tomcatVersionPrefix = "Apache Tomcat Version "

type Tomcat struct {
	deps   Deps
	logger log.Logger
}

func NewTomcat(deps Deps, logger log.Logger) *Tomcat {
	return &Tomcat{deps: deps, logger: log.With(logger, "family", TypeTomcat)}
}

func (t *Tomcat) Type() string {
	return TypeTomcat
}

// GetInstances treats each candidate path as catalina.home and Config as
// catalina.base.
func (t *Tomcat) GetInstances(ctx context.Context, candidates []Candidate) []*Instance {
	var instances []*Instance
	for _, c := range uniqueCandidates(candidates) {
		base := c.Config
		if base == "" {
			base = c.Path
		}
		inst := NewInstance(withTrailingSlash(base), TypeTomcat)
		inst.SetVersion(t.version(c.Path))
		if inst.Version != "" {
			inst.HTTPPort, inst.HTTPSPort = connectorPorts(t.deps, t.logger, filepath.Join(base, "conf", "server.xml"))
		}
		instances = append(instances, inst)
	}
	return uniqueInstances(instances)
}

func (t *Tomcat) version(home string) string {
	data, ok := readFile(t.deps, t.logger, filepath.Join(home, "RELEASE-NOTES"))
	if !ok {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, tomcatVersionPrefix); idx >= 0 {
			return strings.TrimSpace(line[idx+len(tomcatVersionPrefix):])
		}
	}
	level.Debug(t.logger).Log("msg", "No version line in release notes", "path", home)
	return ""
}

// connectorPorts reads the first HTTP and HTTPS connectors of a Tomcat style
// server.xml.
func connectorPorts(deps Deps, logger log.Logger, path string) (http, https string) {
	server := loadXML(deps, logger, path, "Server")
	if server == nil {
		return "", ""
	}
	for _, service := range server.children("Service") {
		for _, connector := range service.children("Connector") {
			protocol := connector.attrValue("protocol")
			if protocol != "" && protocol != "HTTP/1.1" && !strings.Contains(protocol, "http11") {
				continue
			}
			port := parsePort(resolvePlaceholder(connector.attrValue("port")))
			secure := connector.attrValue("secure") == "true" || connector.attrValue("SSLEnabled") == "true"
			if secure && https == "" {
				https = port
			} else if !secure && http == "" {
				http = port
			}
		}
	}
	return http, https
}
