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
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

const (
	webSphereVersionFile   = "properties/version/profile.version"
	webSphereHTTPEndpoint  = "WC_defaulthost"
	webSphereHTTPSEndpoint = "WC_defaulthost_secure"
)

type WebSphere struct {
	deps   Deps
	logger log.Logger
}

func NewWebSphere(deps Deps, logger log.Logger) *WebSphere {
	return &WebSphere{deps: deps, logger: log.With(logger, "family", TypeWebSphere)}
}

func (w *WebSphere) Type() string {
	return TypeWebSphere
}

// GetInstances expects candidates with cell, node and server set, or a path
// of the form <profile>/config/cells/<cell>/nodes/<node>/servers/<server>.
func (w *WebSphere) GetInstances(ctx context.Context, candidates []Candidate) []*Instance {
	var instances []*Instance
	for _, c := range uniqueCandidates(candidates) {
		if c.Cell == "" || c.Node == "" || c.Server == "" {
			parsed, ok := parseWebSphereServerPath(c.Path)
			if !ok {
				level.Debug(w.logger).Log("msg", "Not a WebSphere server path", "path", c.Path)
				continue
			}
			c = parsed
		}
		if c.Profile == "" {
			c.Profile = filepath.Base(profileDiskPath(withTrailingSlash(c.Path)))
		}
		inst := NewWebSphereInstance(c.Path, c.Cell, c.Node, c.Profile, c.Server)
		w.update(inst)
		instances = append(instances, inst)
	}
	return uniqueInstances(instances)
}

// NewWebSphereInstance returns an instance identified by
// profile-cell-node-server whose disk path is the profile directory.
func NewWebSphereInstance(installDir, cell, node, profile, server string) *Instance {
	inst := NewInstance(strings.Join([]string{profile, cell, node, server}, "-"), TypeWebSphere)
	inst.DiskPath = profileDiskPath(withTrailingSlash(installDir))
	inst.Cell = cell
	inst.Node = node
	inst.Profile = profile
	inst.Server = server
	return inst
}

// profileDiskPath reduces <X>/<profile>/servers/<server>/ to <X>/<profile>/.
func profileDiskPath(diskPath string) string {
	parts := strings.Split(strings.TrimSuffix(diskPath, "/"), "/")
	if len(parts) >= 3 && parts[len(parts)-2] == "servers" {
		return withTrailingSlash(strings.Join(parts[:len(parts)-2], "/"))
	}
	return diskPath
}

func parseWebSphereServerPath(path string) (Candidate, bool) {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	n := len(parts)
	if n < 8 || parts[n-2] != "servers" || parts[n-4] != "nodes" || parts[n-6] != "cells" || parts[n-7] != "config" {
		return Candidate{}, false
	}
	profileDir := strings.Join(parts[:n-7], "/")
	return Candidate{
		Path:    profileDir,
		Profile: filepath.Base(profileDir),
		Cell:    parts[n-5],
		Node:    parts[n-3],
		Server:  parts[n-1],
	}, true
}

func (w *WebSphere) update(inst *Instance) {
	versionFile := filepath.Join(inst.DiskPath, webSphereVersionFile)
	profile := loadXML(w.deps, w.logger, versionFile, "profile")
	if v := profile.child("version"); v != nil {
		inst.SetVersion(v.text())
	}
	if inst.Version == "" {
		level.Debug(w.logger).Log("msg", "Unable to determine version", "id", inst.ID)
		return
	}
	serverIndex := filepath.Join(inst.DiskPath, "config", "cells", inst.Cell, "nodes", inst.Node, "serverindex.xml")
	index := loadXML(w.deps, w.logger, serverIndex, "ServerIndex")
	entry := index.find("serverEntries", "serverName", inst.Server)
	if entry == nil {
		level.Debug(w.logger).Log("msg", "Server not in server index", "server", inst.Server, "path", serverIndex)
		return
	}
	inst.HTTPPort = endpointPort(entry, webSphereHTTPEndpoint)
	inst.HTTPSPort = endpointPort(entry, webSphereHTTPSEndpoint)
}

func endpointPort(entry *element, name string) string {
	endpoint := entry.find("specialEndpoints", "endPointName", name)
	return parsePort(endpoint.child("endPoint").attrValue("port"))
}
