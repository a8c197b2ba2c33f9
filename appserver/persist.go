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
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"gopkg.in/yaml.v2"
)

// Store keeps the instances found so far in a YAML file so that servers that
// are installed but stopped are still reported.
type Store struct {
	sync.Mutex
	path   string
	deps   Deps
	logger log.Logger
}

type storeFile struct {
	Instances map[string][]*Instance `yaml:"instances"`
}

func NewStore(path string, deps Deps, logger log.Logger) *Store {
	return &Store{path: path, deps: deps, logger: logger}
}

func (s *Store) load() (storeFile, error) {
	content := storeFile{Instances: make(map[string][]*Instance)}
	data, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		return content, nil
	}
	if err != nil {
		return content, err
	}
	if err := yaml.Unmarshal(data, &content); err != nil {
		return content, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if content.Instances == nil {
		content.Instances = make(map[string][]*Instance)
	}
	return content, nil
}

// Read returns the stored instances of a type that are still installed, all
// marked not running.
func (s *Store) Read(serverType string) ([]*Instance, error) {
	s.Lock()
	defer s.Unlock()
	content, err := s.load()
	if err != nil {
		return nil, err
	}
	var instances []*Instance
	for _, i := range content.Instances[serverType] {
		if i == nil || i.ID == "" {
			continue
		}
		i.Type = serverType
		i.IsRunning = false
		if i.MajorVersion == "" && i.Version != "" {
			i.SetVersion(i.Version)
		}
		instances = append(instances, i)
	}
	kept := RemoveNonExistent(instances, s.deps)
	level.Debug(s.logger).Log("msg", "Read stored instances", "type", serverType, "stored", len(instances), "installed", len(kept))
	return kept, nil
}

// Write replaces the stored instances of a type.
func (s *Store) Write(serverType string, instances []*Instance) error {
	s.Lock()
	defer s.Unlock()
	content, err := s.load()
	if err != nil {
		level.Error(s.logger).Log("msg", "Discarding unreadable instance store", "path", s.path, "err", err)
		content = storeFile{Instances: make(map[string][]*Instance)}
	}
	content.Instances[serverType] = instances
	data, err := yaml.Marshal(&content)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
