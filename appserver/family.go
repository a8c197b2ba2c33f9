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
	"sort"

	"github.com/go-kit/kit/log"
)

// Candidate is a possible installation, usually found on the command line of
// a running java process.
type Candidate struct {
	// Path is the install root: JBoss or Tomcat home, WebLogic home or
	// WebSphere profile/server directory.
	Path string `yaml:"path"`
	// Config is the JBoss server configuration name or file, or the Tomcat
	// catalina.base.
	Config string `yaml:"config,omitempty"`
	// BindingSet is the JBoss service binding set given on the command line.
	BindingSet string `yaml:"binding_set,omitempty"`
	Profile    string `yaml:"profile,omitempty"`
	Cell       string `yaml:"cell,omitempty"`
	Node       string `yaml:"node,omitempty"`
	Server     string `yaml:"server,omitempty"`
}

// Family discovers instances of one kind of application server.
type Family interface {
	Type() string
	// GetInstances returns the instances found below the candidates. It never
	// fails for a single bad candidate, which simply yields nothing.
	GetInstances(ctx context.Context, candidates []Candidate) []*Instance
}

// NewFamilies returns every supported family.
func NewFamilies(deps Deps, logger log.Logger) []Family {
	return []Family{
		NewJBoss(deps, logger),
		NewTomcat(deps, logger),
		NewWebLogic(deps, logger),
		NewWebSphere(deps, logger),
	}
}

// DetectType returns the family owning an install directory by looking for
// the files each family reads first, or "" if none matches.
func DetectType(deps Deps, path string) string {
	switch {
	case deps.PathExists(filepath.Join(path, jbossJarVersionsFile)),
		deps.PathExists(filepath.Join(path, "bin", "standalone.sh")):
		return TypeJBoss
	case deps.PathExists(filepath.Join(path, webLogicDomainRegistry)),
		deps.PathExists(filepath.Join(path, webLogicNodemanagerDomain)):
		return TypeWebLogic
	case deps.PathExists(filepath.Join(path, webSphereVersionFile)):
		return TypeWebSphere
	case deps.PathExists(filepath.Join(path, "RELEASE-NOTES")),
		deps.PathExists(filepath.Join(path, "bin", "catalina.sh")):
		return TypeTomcat
	}
	if _, ok := parseWebSphereServerPath(path); ok {
		return TypeWebSphere
	}
	return ""
}

// CandidatesFromPaths wraps bare install paths.
func CandidatesFromPaths(paths ...string) []Candidate {
	candidates := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		candidates = append(candidates, Candidate{Path: p})
	}
	return candidates
}

// uniqueCandidates drops repeated candidates keeping first occurrence order.
func uniqueCandidates(candidates []Candidate) []Candidate {
	seen := make(map[Candidate]bool, len(candidates))
	var unique []Candidate
	for _, c := range candidates {
		if c.Path == "" || seen[c] {
			continue
		}
		seen[c] = true
		unique = append(unique, c)
	}
	return unique
}

// uniqueInstances drops instances whose id was already seen.
func uniqueInstances(instances []*Instance) []*Instance {
	seen := make(map[string]bool, len(instances))
	unique := make([]*Instance, 0, len(instances))
	for _, i := range instances {
		if seen[i.ID] {
			continue
		}
		seen[i.ID] = true
		unique = append(unique, i)
	}
	return unique
}

func sortedUnique(values []string) []string {
	sort.Strings(values)
	var unique []string
	for i, v := range values {
		if i > 0 && v == values[i-1] {
			continue
		}
		unique = append(unique, v)
	}
	return unique
}

func sliceContains(slice []string, str string) bool {
	for _, s := range slice {
		if str == s {
			return true
		}
	}
	return false
}
