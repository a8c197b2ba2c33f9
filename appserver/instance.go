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
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	TypeJBoss     = "JBoss"
	TypeTomcat    = "Tomcat"
	TypeWebLogic  = "WebLogic"
	TypeWebSphere = "WebSphere"

	ProtocolHTTP  = "HTTP"
	ProtocolHTTPS = "HTTPS"
)

// ErrNoPort is returned when deep monitoring is requested for a protocol
// whose port is unknown.
var ErrNoPort = errors.New("no port known for protocol")

// Instance is one discovered application server.
type Instance struct {
	ID              string `yaml:"id" json:"id"`
	DiskPath        string `yaml:"disk_path" json:"disk_path"`
	Type            string `yaml:"type" json:"type"`
	Version         string `yaml:"version" json:"version"`
	MajorVersion    string `yaml:"major_version" json:"major_version"`
	HTTPPort        string `yaml:"http_port" json:"http_port"`
	HTTPSPort       string `yaml:"https_port" json:"https_port"`
	Port            string `yaml:"port" json:"port"`
	Protocol        string `yaml:"protocol" json:"protocol"`
	IsDeepMonitored bool   `yaml:"is_deep_monitored" json:"is_deep_monitored"`
	IsRunning       bool   `yaml:"-" json:"is_running"`
	Profile         string `yaml:"profile,omitempty" json:"profile,omitempty"`
	Cell            string `yaml:"cell,omitempty" json:"cell,omitempty"`
	Node            string `yaml:"node,omitempty" json:"node,omitempty"`
	Server          string `yaml:"server,omitempty" json:"server,omitempty"`
}

// NewInstance returns a running, not deep monitored instance whose disk path
// is its id.
func NewInstance(id, serverType string) *Instance {
	return &Instance{
		ID:        id,
		DiskPath:  id,
		Type:      serverType,
		IsRunning: true,
	}
}

// SetVersion sets the version and derives the major version from its first
// dot-delimited component.
func (i *Instance) SetVersion(version string) {
	i.Version = version
	i.MajorVersion = ""
	if version == "" {
		return
	}
	i.MajorVersion = strings.SplitN(version, ".", 2)[0]
}

// SetDeepMonitored toggles deep monitoring. An empty protocol prefers HTTPS
// when its port is known, any unrecognized protocol means HTTP.
func (i *Instance) SetDeepMonitored(deep bool, protocol string) error {
	if !deep {
		i.IsDeepMonitored = false
		i.Port = ""
		i.Protocol = ""
		return nil
	}
	switch strings.ToUpper(protocol) {
	case "":
		if i.HTTPSPort != "" {
			protocol = ProtocolHTTPS
		} else {
			protocol = ProtocolHTTP
		}
	case ProtocolHTTPS:
		protocol = ProtocolHTTPS
	default:
		protocol = ProtocolHTTP
	}
	port := i.HTTPPort
	if protocol == ProtocolHTTPS {
		port = i.HTTPSPort
	}
	if port == "" {
		return ErrNoPort
	}
	i.IsDeepMonitored = true
	i.Protocol = protocol
	i.Port = port
	return nil
}

// IsStillInstalled reports whether the files anchoring the instance are still
// on disk.
func (i *Instance) IsStillInstalled(deps Deps) bool {
	if i.Type == TypeWebSphere {
		return deps.PathExists(filepath.Join(i.DiskPath, webSphereVersionFile))
	}
	return deps.PathExists(i.DiskPath)
}

func withTrailingSlash(p string) string {
	if p == "" || strings.HasSuffix(p, string(os.PathSeparator)) {
		return p
	}
	return p + string(os.PathSeparator)
}
