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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/Flaque/filet"
	"github.com/OSC/appserver_exporter/appserver"
	"github.com/OSC/appserver_exporter/provider"
	"github.com/go-kit/kit/log"
	"github.com/mitchellh/go-homedir"
)

const configYAML = `
families:
  - tomcat
  - WebLogic
candidates:
  - path: ~/servers/*/tomcat
  - type: JBoss
    path: /opt/jboss
    config: default
    binding_set: ports-01
`

const releaseNotes = `Apache Tomcat Version 8.5.4
`

const serverXML = `<Server port="8005">
  <Service name="Catalina">
    <Connector port="8080" protocol="HTTP/1.1" redirectPort="8443" />
    <Connector port="8443" protocol="HTTP/1.1" SSLEnabled="true" secure="true" />
  </Service>
</Server>
`

type staticScanner map[string][]appserver.Candidate

func (s staticScanner) Scan(ctx context.Context) (map[string][]appserver.Candidate, error) {
	return s, nil
}

// setupHome points HOME at a temp dir holding two Tomcat installs.
func setupHome(t *testing.T) string {
	home := filet.TmpDir(t, "")
	for _, name := range []string{"a", "b"} {
		dir := filepath.Join(home, "servers", name, "tomcat")
		if err := os.MkdirAll(filepath.Join(dir, "conf"), 0755); err != nil {
			t.Fatal(err)
		}
		filet.File(t, filepath.Join(dir, "RELEASE-NOTES"), releaseNotes)
		filet.File(t, filepath.Join(dir, "conf", "server.xml"), serverXML)
	}
	homedir.DisableCache = true
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", home)
	t.Cleanup(func() { os.Setenv("HOME", oldHome) })
	return home
}

func TestLoadConfig(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), "config.yml")
	filet.File(t, path, configYAML)
	config, err := loadConfig(path, log.NewNopLogger())
	if err != nil {
		t.Fatalf("Unexpected error: %s", err.Error())
	}
	if !reflect.DeepEqual(config.Families, []string{"tomcat", "WebLogic"}) {
		t.Errorf("Unexpected families %v", config.Families)
	}
	if len(config.Candidates) != 2 {
		t.Fatalf("Unexpected candidates %v", config.Candidates)
	}
	expected := CandidateConfig{Type: "JBoss", Candidate: appserver.Candidate{Path: "/opt/jboss", Config: "default", BindingSet: "ports-01"}}
	if config.Candidates[1] != expected {
		t.Errorf("Expected %+v, got %+v", expected, config.Candidates[1])
	}
}

func TestLoadConfigEmpty(t *testing.T) {
	config, err := loadConfig("", log.NewNopLogger())
	if err != nil {
		t.Errorf("Unexpected error: %s", err.Error())
	}
	if len(config.Families) != 0 || len(config.Candidates) != 0 {
		t.Errorf("Expected empty config, got %+v", config)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	defer filet.CleanUp(t)
	if _, err := loadConfig("/nonexistent/config.yml", log.NewNopLogger()); err == nil {
		t.Errorf("Expected error for missing file")
	}
	path := filepath.Join(filet.TmpDir(t, ""), "config.yml")
	filet.File(t, path, "unknown: true\n")
	if _, err := loadConfig(path, log.NewNopLogger()); err == nil {
		t.Errorf("Expected error for unknown key")
	}
}

func TestExpandPath(t *testing.T) {
	defer filet.CleanUp(t)
	home := setupHome(t)
	paths, err := expandPath("~/servers/*/tomcat")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err.Error())
	}
	sort.Strings(paths)
	expected := []string{filepath.Join(home, "servers", "a", "tomcat"), filepath.Join(home, "servers", "b", "tomcat")}
	if !reflect.DeepEqual(paths, expected) {
		t.Errorf("Expected %v, got %v", expected, paths)
	}
	paths, err = expandPath("~/servers/**/RELEASE-NOTES")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err.Error())
	}
	if len(paths) != 2 {
		t.Errorf("Expected 2 release notes, got %v", paths)
	}
	paths, _ = expandPath("/opt/jboss")
	if !reflect.DeepEqual(paths, []string{"/opt/jboss"}) {
		t.Errorf("Unexpected paths %v", paths)
	}
}

func TestStaticCandidates(t *testing.T) {
	defer filet.CleanUp(t)
	home := setupHome(t)
	config := Config{Candidates: []CandidateConfig{
		{Candidate: appserver.Candidate{Path: "~/servers/*/tomcat"}},
		{Type: appserver.TypeJBoss, Candidate: appserver.Candidate{Path: "/opt/jboss", Config: "all"}},
		{Candidate: appserver.Candidate{Path: "/nonexistent/server"}},
	}}
	deps := appserver.NewOSDeps(log.NewNopLogger(), 0)
	candidates := staticCandidates(config, deps, log.NewNopLogger())
	if len(candidates) != 2 {
		t.Fatalf("Unexpected candidates %v", candidates)
	}
	tomcats := candidates[appserver.TypeTomcat]
	sort.Slice(tomcats, func(i, j int) bool { return tomcats[i].Path < tomcats[j].Path })
	expected := appserver.CandidatesFromPaths(filepath.Join(home, "servers", "a", "tomcat"), filepath.Join(home, "servers", "b", "tomcat"))
	if !reflect.DeepEqual(tomcats, expected) {
		t.Errorf("Expected %v, got %v", expected, tomcats)
	}
	if c := candidates[appserver.TypeJBoss]; len(c) != 1 || c[0].Config != "all" {
		t.Errorf("Unexpected JBoss candidates %v", c)
	}
}

func TestEnabledFamilies(t *testing.T) {
	deps := appserver.NewOSDeps(log.NewNopLogger(), 0)
	families := enabledFamilies(Config{Families: []string{"tomcat", "WEBSPHERE", "unknown"}}, deps, log.NewNopLogger())
	var types []string
	for _, f := range families {
		types = append(types, f.Type())
	}
	if !reflect.DeepEqual(types, []string{appserver.TypeTomcat, appserver.TypeWebSphere}) {
		t.Errorf("Unexpected families %v", types)
	}
	if families := enabledFamilies(Config{}, deps, log.NewNopLogger()); len(families) != 4 {
		t.Errorf("Expected all families, got %d", len(families))
	}
}

func TestNewStore(t *testing.T) {
	defer filet.CleanUp(t)
	setupHome(t)
	deps := appserver.NewOSDeps(log.NewNopLogger(), 0)
	if store, err := newStore("", deps, log.NewNopLogger()); err != nil || store != nil {
		t.Errorf("Expected no store, got %v %v", store, err)
	}
	store, err := newStore("~/state/instances.yml", deps, log.NewNopLogger())
	if err != nil || store == nil {
		t.Fatalf("Expected store, got %v", err)
	}
	if err := store.Write(appserver.TypeTomcat, nil); err != nil {
		t.Errorf("Unexpected error: %s", err.Error())
	}
}

func newTestProvider(t *testing.T) (*provider.Provider, string) {
	home := setupHome(t)
	tomcat := filepath.Join(home, "servers", "a", "tomcat")
	deps := appserver.NewOSDeps(log.NewNopLogger(), 0)
	scanner := staticScanner{appserver.TypeTomcat: appserver.CandidatesFromPaths(tomcat)}
	families := []appserver.Family{appserver.NewTomcat(deps, log.NewNopLogger())}
	return provider.New(families, scanner, nil, deps, log.NewNopLogger()), tomcat + "/"
}

func TestInstancesHandler(t *testing.T) {
	defer filet.CleanUp(t)
	p, id := newTestProvider(t)
	handler := instancesHandler(p, log.NewNopLogger())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/instances", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	var instances []map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &instances); err != nil {
		t.Fatalf("Unexpected error: %s", err.Error())
	}
	if len(instances) != 1 {
		t.Fatalf("Unexpected instances %v", instances)
	}
	if instances[0]["Name"] != id || instances[0]["HttpPort"] != "8080" || instances[0]["Version"] != "8.5.4" {
		t.Errorf("Unexpected instance %v", instances[0])
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/instances?keys_only=true", nil))
	instances = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &instances); err != nil {
		t.Fatalf("Unexpected error: %s", err.Error())
	}
	if len(instances) != 1 || len(instances[0]) != 1 || instances[0]["Name"] != id {
		t.Errorf("Unexpected names %v", instances)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/instances?name="+url.QueryEscape(id), nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"HttpsPort":"8443"`) {
		t.Errorf("Unexpected response %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/instances?name=/opt/missing/", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected not found, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/instances?name=", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected bad request, got %d", rr.Code)
	}
}

func TestDeepMonitoringHandler(t *testing.T) {
	defer filet.CleanUp(t)
	p, id := newTestProvider(t)
	handler := deepMonitoringHandler(p, log.NewNopLogger())
	post := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/deep-monitoring", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	rr := post(url.Values{"id": {id}, "deep": {"true"}, "protocol": {"HTTP"}})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"MIReturn":true`) {
		t.Fatalf("Unexpected response %d: %s", rr.Code, rr.Body.String())
	}
	props, err := p.GetInstance(context.Background(), id)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err.Error())
	}
	if props["IsDeepMonitored"] != true || props["Port"] != "8080" || props["Protocol"] != "HTTP" {
		t.Errorf("Unexpected instance %v", props)
	}

	if rr := post(url.Values{"id": {id}, "deep": {"maybe"}}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected bad request for invalid deep, got %d", rr.Code)
	}
	if rr := post(url.Values{"deep": {"true"}}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected bad request for missing id, got %d", rr.Code)
	}
	if rr := post(url.Values{"id": {"/opt/missing/"}, "deep": {"true"}}); rr.Code != http.StatusNotFound {
		t.Errorf("Expected not found for unknown id, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/deep-monitoring", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected method not allowed, got %d", rr.Code)
	}
}
