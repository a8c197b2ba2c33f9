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

package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/OSC/appserver_exporter/appserver"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

const (
	MethodSetDeepMonitoring = "SetDeepMonitoring"

	caption     = "SCX Application Server"
	description = "Represents a JEE Application Server"
)

// Scanner finds candidate installations, grouped by server type.
type Scanner interface {
	Scan(ctx context.Context) (map[string][]appserver.Candidate, error)
}

// Properties is the property set of one instance.
type Properties map[string]interface{}

// Provider serves the instances of every family. Each family has its own
// lock so enumerating one never waits on another.
type Provider struct {
	families []*familyProvider
	byType   map[string]*familyProvider
	scanner  Scanner
	logger   log.Logger
}

type familyProvider struct {
	sync.Mutex
	family appserver.Family
	store  *appserver.Store
	deps   appserver.Deps
	// id to protocol of instances with deep monitoring turned on.
	deep   map[string]string
	logger log.Logger
}

// New returns a provider for families. The store may be nil, in which case
// instances are only known while they run.
func New(families []appserver.Family, scanner Scanner, store *appserver.Store, deps appserver.Deps, logger log.Logger) *Provider {
	p := &Provider{
		byType:  make(map[string]*familyProvider, len(families)),
		scanner: scanner,
		logger:  logger,
	}
	for _, f := range families {
		fp := &familyProvider{
			family: f,
			store:  store,
			deps:   deps,
			deep:   make(map[string]string),
			logger: log.With(logger, "type", f.Type()),
		}
		p.families = append(p.families, fp)
		p.byType[f.Type()] = fp
	}
	return p
}

// Types returns the server types served, in registration order.
func (p *Provider) Types() []string {
	types := make([]string, 0, len(p.families))
	for _, fp := range p.families {
		types = append(types, fp.family.Type())
	}
	return types
}

// Scan returns the current candidates. A failed scan still returns whatever
// candidates were found along with the error.
func (p *Provider) Scan(ctx context.Context) (map[string][]appserver.Candidate, error) {
	if p.scanner == nil {
		return map[string][]appserver.Candidate{}, nil
	}
	candidates, err := p.scanner.Scan(ctx)
	if candidates == nil {
		candidates = map[string][]appserver.Candidate{}
	}
	if err != nil {
		level.Error(p.logger).Log("msg", "Error scanning for application servers", "err", err)
	}
	return candidates, err
}

// Instances enumerates one family from the given candidates.
func (p *Provider) Instances(ctx context.Context, serverType string, candidates []appserver.Candidate) ([]*appserver.Instance, error) {
	fp, ok := p.byType[serverType]
	if !ok {
		return nil, newError(NotFound, "unknown server type %s", serverType)
	}
	fp.Lock()
	defer fp.Unlock()
	return fp.enumerate(ctx, candidates), nil
}

// enumerate must be called with the family lock held.
func (fp *familyProvider) enumerate(ctx context.Context, candidates []appserver.Candidate) []*appserver.Instance {
	running := fp.family.GetInstances(ctx, candidates)
	var known []*appserver.Instance
	if fp.store != nil {
		var err error
		if known, err = fp.store.Read(fp.family.Type()); err != nil {
			level.Error(fp.logger).Log("msg", "Unable to read stored instances", "err", err)
		}
	}
	instances := appserver.MergeInstances(known, running, fp.deps)
	for _, i := range instances {
		protocol, ok := fp.deep[i.ID]
		if !ok {
			continue
		}
		if err := i.SetDeepMonitored(true, protocol); err != nil {
			level.Debug(fp.logger).Log("msg", "Unable to keep deep monitoring", "id", i.ID, "protocol", protocol, "err", err)
		}
	}
	fp.save(instances)
	level.Debug(fp.logger).Log("msg", "Enumerated instances", "running", len(running), "total", len(instances))
	return instances
}

func (fp *familyProvider) save(instances []*appserver.Instance) {
	if fp.store == nil {
		return
	}
	if err := fp.store.Write(fp.family.Type(), instances); err != nil {
		level.Error(fp.logger).Log("msg", "Unable to store instances", "err", err)
	}
}

func (p *Provider) all(ctx context.Context) []*appserver.Instance {
	candidates, _ := p.Scan(ctx)
	var instances []*appserver.Instance
	for _, fp := range p.families {
		fp.Lock()
		instances = append(instances, fp.enumerate(ctx, candidates[fp.family.Type()])...)
		fp.Unlock()
	}
	return instances
}

// EnumerateInstances returns the properties of every instance, or only
// their keys with keysOnly.
func (p *Provider) EnumerateInstances(ctx context.Context, keysOnly bool) ([]Properties, error) {
	instances := p.all(ctx)
	result := make([]Properties, 0, len(instances))
	for _, i := range instances {
		result = append(result, NewProperties(i, keysOnly))
	}
	return result, nil
}

func (p *Provider) EnumerateInstanceNames(ctx context.Context) ([]Properties, error) {
	return p.EnumerateInstances(ctx, true)
}

func (p *Provider) GetInstance(ctx context.Context, name string) (Properties, error) {
	if name == "" {
		return nil, newError(InvalidParameter, "missing Name")
	}
	for _, i := range p.all(ctx) {
		if i.ID == name {
			return NewProperties(i, false), nil
		}
	}
	return nil, newError(NotFound, "no instance %s", name)
}

// InvokeMethod runs an extrinsic method. SetDeepMonitoring takes id (string),
// deep (bool) and an optional protocol (string), and reports in MIReturn
// whether the setting was applied.
func (p *Provider) InvokeMethod(ctx context.Context, method string, args map[string]interface{}) (Properties, error) {
	if method != MethodSetDeepMonitoring {
		return nil, newError(NotSupported, "method %s", method)
	}
	id, ok := args["id"].(string)
	if !ok || id == "" {
		return nil, newError(InvalidParameter, "id must be a non-empty string")
	}
	deep, ok := args["deep"].(bool)
	if !ok {
		return nil, newError(InvalidParameter, "deep must be a boolean")
	}
	var protocol string
	if v, present := args["protocol"]; present && v != nil {
		if protocol, ok = v.(string); !ok {
			return nil, newError(InvalidParameter, "protocol must be a string")
		}
	}
	candidates, _ := p.Scan(ctx)
	for _, fp := range p.families {
		applied, found := fp.setDeepMonitoring(ctx, candidates[fp.family.Type()], id, deep, protocol)
		if found {
			return Properties{"MIReturn": applied}, nil
		}
	}
	return nil, newError(NotFound, "no instance %s", id)
}

func (fp *familyProvider) setDeepMonitoring(ctx context.Context, candidates []appserver.Candidate, id string, deep bool, protocol string) (applied, found bool) {
	fp.Lock()
	defer fp.Unlock()
	instances := fp.enumerate(ctx, candidates)
	for _, i := range instances {
		if i.ID != id {
			continue
		}
		if err := i.SetDeepMonitored(deep, protocol); err != nil {
			if !errors.Is(err, appserver.ErrNoPort) {
				level.Error(fp.logger).Log("msg", "Unable to set deep monitoring", "id", id, "err", err)
			}
			return false, true
		}
		if deep {
			fp.deep[id] = i.Protocol
		} else {
			delete(fp.deep, id)
		}
		fp.save(instances)
		level.Info(fp.logger).Log("msg", "Deep monitoring changed", "id", id, "deep", deep, "protocol", i.Protocol)
		return true, true
	}
	return false, false
}

func (p *Provider) CreateInstance(ctx context.Context, props Properties) error {
	return newError(NotSupported, "CreateInstance")
}

func (p *Provider) ModifyInstance(ctx context.Context, props Properties) error {
	return newError(NotSupported, "ModifyInstance")
}

func (p *Provider) DeleteInstance(ctx context.Context, name string) error {
	return newError(NotSupported, "DeleteInstance")
}

// NewProperties projects an instance on its property set.
func NewProperties(i *appserver.Instance, keysOnly bool) Properties {
	props := Properties{"Name": i.ID}
	if keysOnly {
		return props
	}
	props["Caption"] = caption
	props["Description"] = description
	props["HttpPort"] = i.HTTPPort
	props["HttpsPort"] = i.HTTPSPort
	props["Version"] = i.Version
	props["MajorVersion"] = i.MajorVersion
	props["Port"] = i.Port
	props["Protocol"] = i.Protocol
	props["DiskPath"] = i.DiskPath
	props["Type"] = i.Type
	props["IsDeepMonitored"] = i.IsDeepMonitored
	props["IsRunning"] = i.IsRunning
	props["Profile"] = i.Profile
	props["Cell"] = i.Cell
	props["Node"] = i.Node
	props["Server"] = i.Server
	return props
}
