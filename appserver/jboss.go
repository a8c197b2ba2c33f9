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
	"regexp"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

const (
	jbossDefaultConfig     = "default"
	jbossDefaultBindingSet = "ports-default"
	jbossJarVersionsFile   = "jar-versions.xml"
	jbossJar               = "jboss.jar"
	jbossWebServerService  = "jboss.web:service=WebServer"
	jbossBindingManager    = "org.jboss.services.binding.ServiceBindingManager"
	jbossBindingSetClass   = "org.jboss.services.binding.impl.ServiceBindingSet"
	jbossBindingSetProp    = "${jboss.service.binding.set"
	jbossHomeURL           = "${jboss.home.url}/"
	// JBoss 4 service bindings only declare the HTTP connector.
	jbossHTTPSOffset = 363
)

var jbossProbeVersionRegexp = regexp.MustCompile(`(?:JBoss|WildFly)[^\n]*?(\d+(?:\.\d+)+(?:\.[A-Za-z][\w-]*)?)`)

type JBoss struct {
	deps   Deps
	logger log.Logger
}

type jbossLayout struct {
	installRoot   string
	diskPath      string
	configDir     string
	bindingSet    string
	defaultConfig bool
}

func NewJBoss(deps Deps, logger log.Logger) *JBoss {
	return &JBoss{deps: deps, logger: log.With(logger, "family", TypeJBoss)}
}

func (j *JBoss) Type() string {
	return TypeJBoss
}

func (j *JBoss) GetInstances(ctx context.Context, candidates []Candidate) []*Instance {
	var instances []*Instance
	for _, c := range uniqueCandidates(candidates) {
		layout := newJBossLayout(c.Path, c.Config, c.BindingSet)
		inst := NewJBossInstance(c.Path, c.Config)
		j.update(ctx, inst, layout)
		level.Debug(j.logger).Log("msg", "Found instance", "id", inst.ID, "version", inst.Version,
			"http", inst.HTTPPort, "https", inst.HTTPSPort)
		instances = append(instances, inst)
	}
	return uniqueInstances(instances)
}

// NewJBossInstance returns an instance for the given server configuration
// without reading anything from disk.
func NewJBossInstance(installRoot, config string) *Instance {
	return NewInstance(newJBossLayout(installRoot, config, "").diskPath, TypeJBoss)
}

// newJBossLayout locates the configuration of a server. A config containing
// a path separator is a file (or directory) inside the configuration
// directory, as used by JBoss 7, otherwise it names a server/<config>
// directory.
func newJBossLayout(installRoot, config, bindingSet string) jbossLayout {
	l := jbossLayout{
		installRoot: withTrailingSlash(installRoot),
		bindingSet:  bindingSet,
	}
	if strings.Contains(config, "/") {
		dir := config
		if !strings.HasSuffix(config, "/") {
			dir = filepath.Dir(config)
		}
		l.diskPath = withTrailingSlash(dir)
		l.configDir = l.diskPath
		return l
	}
	if config == "" {
		config = jbossDefaultConfig
		l.defaultConfig = true
	}
	l.diskPath = withTrailingSlash(filepath.Join(installRoot, "server", config))
	l.configDir = withTrailingSlash(filepath.Join(installRoot, "standalone", "configuration"))
	return l
}

func (j *JBoss) update(ctx context.Context, inst *Instance, l jbossLayout) {
	if version := j.jarVersion(l.installRoot); version != "" {
		inst.SetVersion(version)
		if major, _ := strconv.Atoi(inst.MajorVersion); major >= 5 {
			inst.HTTPPort, inst.HTTPSPort = j.jboss5Ports(l)
		} else {
			inst.HTTPPort, inst.HTTPSPort = j.jboss4Ports(l)
		}
		return
	}
	version := probeVersion(j.deps.RunVersionProbe(ctx, l.installRoot))
	if version == "" {
		level.Debug(j.logger).Log("msg", "Unable to determine version", "id", inst.ID)
		return
	}
	inst.SetVersion(version)
	// JBoss 7 has no server/<config> directory.
	if l.defaultConfig {
		inst.ID = l.configDir
		inst.DiskPath = l.configDir
	}
	inst.HTTPPort, inst.HTTPSPort = j.jboss7Ports(l)
}

func (j *JBoss) jarVersion(installRoot string) string {
	root := loadXML(j.deps, j.logger, filepath.Join(installRoot, jbossJarVersionsFile), "jar-versions")
	if root == nil {
		return ""
	}
	jar := root.find("jar", "name", jbossJar)
	if jar == nil {
		level.Debug(j.logger).Log("msg", "No jar entry in inventory", "jar", jbossJar, "path", installRoot)
		return ""
	}
	for _, attr := range []string{"implVersion", "specVersion"} {
		if fields := strings.Fields(jar.attrValue(attr)); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

func probeVersion(output string) string {
	m := jbossProbeVersionRegexp.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// resolveBindingSet picks the override if it is defined, then the name
// embedded in the configuration, then ports-default.
func resolveBindingSet(override, embedded string, defined []string) string {
	for _, name := range []string{override, embedded} {
		if name != "" && sliceContains(defined, name) {
			return name
		}
	}
	return jbossDefaultBindingSet
}

func (j *JBoss) jboss4Ports(l jbossLayout) (string, string) {
	service := loadXML(j.deps, j.logger, filepath.Join(l.diskPath, "conf", "jboss-service.xml"), "server")
	if service == nil {
		return "", ""
	}
	mbean := service.find("mbean", "code", jbossBindingManager)
	if mbean == nil {
		return connectorPorts(j.deps, j.logger, filepath.Join(l.diskPath, "deploy", "jboss-web.deployer", "server.xml"))
	}
	var serverName, storeURL string
	for _, a := range mbean.children("attribute") {
		switch a.attrValue("name") {
		case "ServerName":
			serverName = a.text()
		case "StoreURL":
			storeURL = a.text()
		}
	}
	if storeURL == "" {
		level.Debug(j.logger).Log("msg", "ServiceBindingManager without StoreURL", "path", l.diskPath)
		return "", ""
	}
	bindings := loadXML(j.deps, j.logger, storePath(l.installRoot, storeURL), "service-bindings")
	if bindings == nil {
		return "", ""
	}
	var sets []string
	for _, s := range bindings.children("server") {
		sets = append(sets, s.attrValue("name"))
	}
	name := resolveBindingSet(l.bindingSet, serverName, sets)
	server := bindings.find("server", "name", name)
	if server == nil {
		level.Debug(j.logger).Log("msg", "Binding set not defined", "set", name, "path", l.diskPath)
		return "", ""
	}
	config := server.find("service-config", "name", jbossWebServerService)
	if config == nil {
		return "", ""
	}
	binding := config.child("binding")
	if binding == nil {
		return "", ""
	}
	http := parsePort(binding.attrValue("port"))
	if http == "" {
		return "", ""
	}
	return http, addOffset(http, jbossHTTPSOffset)
}

func storePath(installRoot, storeURL string) string {
	p := strings.Replace(storeURL, jbossHomeURL, withTrailingSlash(installRoot), 1)
	p = strings.TrimPrefix(p, "file://")
	p = strings.TrimPrefix(p, "file:")
	if !filepath.IsAbs(p) && !strings.HasPrefix(p, withTrailingSlash(installRoot)) {
		p = filepath.Join(installRoot, p)
	}
	return p
}

func (j *JBoss) jboss5Ports(l jbossLayout) (string, string) {
	path := filepath.Join(l.diskPath, "conf", "bindingservice.beans", "META-INF", "bindings-jboss-beans.xml")
	deployment := loadXML(j.deps, j.logger, path, "deployment")
	if deployment == nil {
		return "", ""
	}
	beans := deployment.children("bean")
	var sets []string
	offsets := make(map[string]string)
	var factory string
	var standard *element
	for _, b := range beans {
		if b.attrValue("class") == jbossBindingSetClass {
			if params := b.path("constructor").children("parameter"); len(params) >= 3 {
				name := params[0].text()
				sets = append(sets, name)
				offsets[name] = params[2].text()
			}
		}
		switch b.attrValue("name") {
		case "ServiceBindingManager":
			if f := b.path("constructor", "factory"); f != nil {
				factory = f.attrValue("bean")
			}
		case "StandardBindings":
			standard = b
		}
	}
	var embedded string
	if factory != "" {
		for _, b := range beans {
			if b.attrValue("name") == factory {
				embedded = embeddedBindingSet(b)
				break
			}
		}
	}
	name := resolveBindingSet(l.bindingSet, embedded, sets)
	offset, ok := parseOffset(offsets[name])
	if !ok {
		level.Debug(j.logger).Log("msg", "Unresolved port offset", "set", name, "offset", offsets[name])
		return "", ""
	}
	httpBase, httpsBase := standardBindingPorts(standard)
	return addOffset(httpBase, offset), addOffset(httpsBase, offset)
}

// embeddedBindingSet returns NAME from a ${jboss.service.binding.set:NAME}
// constructor parameter of the binding management bean.
func embeddedBindingSet(bean *element) string {
	constructor := bean.child("constructor")
	if constructor == nil {
		return ""
	}
	for _, p := range constructor.children("parameter") {
		if content := p.text(); strings.HasPrefix(content, jbossBindingSetProp) {
			return resolvePlaceholder(content)
		}
	}
	return ""
}

func standardBindingPorts(standard *element) (http, https string) {
	if standard == nil {
		return "", ""
	}
	set := standard.path("constructor", "parameter", "set")
	if set == nil {
		return "", ""
	}
	var foundHTTP, foundHTTPS bool
	for _, b := range set.children("bean") {
		var service, binding, port string
		for _, p := range b.children("property") {
			switch p.attrValue("name") {
			case "serviceName":
				service = p.text()
			case "bindingName":
				binding = p.text()
			case "port":
				port = resolvePlaceholder(p.text())
			}
		}
		if service != jbossWebServerService {
			continue
		}
		switch binding {
		case "", "HttpConnector":
			if !foundHTTP {
				http, foundHTTP = parsePort(port), true
			}
		case "HttpsConnector":
			if !foundHTTPS {
				https, foundHTTPS = parsePort(port), true
			}
		}
	}
	return http, https
}

func (j *JBoss) jboss7Ports(l jbossLayout) (string, string) {
	server := loadXML(j.deps, j.logger, filepath.Join(l.configDir, "standalone.xml"), "server")
	if server == nil {
		return "", ""
	}
	group := server.child("socket-binding-group")
	if group == nil {
		return "", ""
	}
	offset, ok := parseOffset(group.attrValue("port-offset"))
	if !ok {
		level.Debug(j.logger).Log("msg", "Unresolved port offset", "offset", group.attrValue("port-offset"))
		return "", ""
	}
	var http, https string
	for _, sb := range group.children("socket-binding") {
		switch sb.attrValue("name") {
		case "http":
			http = addOffset(resolvePlaceholder(sb.attrValue("port")), offset)
		case "https":
			https = addOffset(resolvePlaceholder(sb.attrValue("port")), offset)
		}
	}
	return http, https
}
