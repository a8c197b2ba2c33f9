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
	"testing"

	"github.com/go-kit/kit/log"
)

const profileVersion = `<?xml version="1.0" encoding="UTF-8"?>
<profile>
  <id>default</id>
  <version>7.0.0.0</version>
  <build-level>r0835.03</build-level>
  <build-date>9/3/08</build-date>
</profile>
`

const serverIndex = `<?xml version="1.0" encoding="UTF-8"?>
<serverindex:ServerIndex xmi:version="2.0" xmlns:xmi="http://www.omg.org/XMI" xmlns:serverindex="http://www.ibm.com/websphere/appserver/schemas/5.0/serverindex.xmi" xmi:id="ServerIndex_1" hostName="scxjet-ws01">
  <serverEntries xmi:id="ServerEntry_1" serverName="dmgr" serverType="DEPLOYMENT_MANAGER">
    <specialEndpoints xmi:id="NamedEndPoint_1" endPointName="WC_adminhost">
      <endPoint xmi:id="EndPoint_1" host="*" port="9060"/>
    </specialEndpoints>
  </serverEntries>
  <serverEntries xmi:id="ServerEntry_2" serverName="server1" serverType="APPLICATION_SERVER">
    <specialEndpoints xmi:id="NamedEndPoint_2" endPointName="BOOTSTRAP_ADDRESS">
      <endPoint xmi:id="EndPoint_2" host="scxjet-ws01" port="2809"/>
    </specialEndpoints>
    <specialEndpoints xmi:id="NamedEndPoint_3" endPointName="WC_defaulthost">
      <endPoint xmi:id="EndPoint_3" host="*" port="9080"/>
    </specialEndpoints>
    <specialEndpoints xmi:id="NamedEndPoint_4" endPointName="WC_defaulthost_secure">
      <endPoint xmi:id="EndPoint_4" host="*" port="9443"/>
    </specialEndpoints>
  </serverEntries>
</serverindex:ServerIndex>
`

const (
	webSphereProfile     = "/opt/IBM/WebSphere/AppServer/profiles/AppSrv01/"
	webSphereServerPath  = webSphereProfile + "config/cells/Cell01/nodes/Node01/servers/server1"
	webSphereServerIndex = webSphereProfile + "config/cells/Cell01/nodes/Node01/serverindex.xml"
)

func webSphereDeps() *fakeDeps {
	deps := newFakeDeps()
	deps.addFile(webSphereProfile+webSphereVersionFile, profileVersion)
	deps.addFile(webSphereServerIndex, serverIndex)
	return deps
}

func webSphereInstances(deps *fakeDeps, candidates ...Candidate) []*Instance {
	return NewWebSphere(deps, log.NewNopLogger()).GetInstances(context.Background(), candidates)
}

func TestWebSphereServerPath(t *testing.T) {
	instances := webSphereInstances(webSphereDeps(), Candidate{Path: webSphereServerPath})
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}
	inst := instances[0]
	if inst.ID != "AppSrv01-Cell01-Node01-server1" {
		t.Errorf("Unexpected id %s", inst.ID)
	}
	if inst.DiskPath != webSphereProfile {
		t.Errorf("Unexpected disk path %s", inst.DiskPath)
	}
	if inst.Version != "7.0.0.0" || inst.MajorVersion != "7" {
		t.Errorf("Unexpected version %s major %s", inst.Version, inst.MajorVersion)
	}
	checkPorts(t, inst, "9080", "9443")
	if inst.Profile != "AppSrv01" || inst.Cell != "Cell01" || inst.Node != "Node01" || inst.Server != "server1" {
		t.Errorf("Unexpected naming %+v", inst)
	}
	if inst.Type != TypeWebSphere || !inst.IsRunning {
		t.Errorf("Unexpected defaults %+v", inst)
	}
}

func TestWebSphereExplicitCandidate(t *testing.T) {
	candidates := []Candidate{
		{Path: webSphereProfile + "servers/server1", Cell: "Cell01", Node: "Node01", Server: "server1"},
		{Path: webSphereProfile, Cell: "Cell01", Node: "Node01", Server: "server1"},
	}
	for _, c := range candidates {
		instances := webSphereInstances(webSphereDeps(), c)
		if len(instances) != 1 {
			t.Fatalf("Expected 1 instance for %s, got %d", c.Path, len(instances))
		}
		if instances[0].ID != "AppSrv01-Cell01-Node01-server1" || instances[0].DiskPath != webSphereProfile {
			t.Errorf("Unexpected instance for %s: %+v", c.Path, instances[0])
		}
		checkPorts(t, instances[0], "9080", "9443")
	}
}

func TestWebSphereUnknownServer(t *testing.T) {
	instances := webSphereInstances(webSphereDeps(), Candidate{Path: webSphereProfile, Cell: "Cell01", Node: "Node01", Server: "server2"})
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}
	if instances[0].Version != "7.0.0.0" {
		t.Errorf("Unexpected version %s", instances[0].Version)
	}
	checkPorts(t, instances[0], "", "")
}

func TestWebSphereNoVersion(t *testing.T) {
	deps := newFakeDeps()
	deps.addFile(webSphereServerIndex, serverIndex)
	instances := webSphereInstances(deps, Candidate{Path: webSphereServerPath})
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}
	checkPorts(t, instances[0], "", "")
	if deps.wasOpened(webSphereServerIndex) {
		t.Errorf("serverindex.xml opened without a version")
	}
}

func TestWebSphereNotServerPath(t *testing.T) {
	instances := webSphereInstances(webSphereDeps(), Candidate{Path: "/opt/IBM/WebSphere/AppServer"})
	if len(instances) != 0 {
		t.Errorf("Expected no instances, got %d", len(instances))
	}
}

func TestParseWebSphereServerPath(t *testing.T) {
	tests := []struct {
		path     string
		ok       bool
		expected Candidate
	}{
		{webSphereServerPath, true, Candidate{Path: "/opt/IBM/WebSphere/AppServer/profiles/AppSrv01", Profile: "AppSrv01",
			Cell: "Cell01", Node: "Node01", Server: "server1"}},
		{"/opt/IBM/WebSphere/AppServer/config/cells/c/nodes/n/servers/s/", true, Candidate{Path: "/opt/IBM/WebSphere/AppServer",
			Profile: "AppServer", Cell: "c", Node: "n", Server: "s"}},
		{"/opt/IBM/WebSphere/AppServer/profiles/AppSrv01", false, Candidate{}},
		{"config/cells/c/nodes/n/servers", false, Candidate{}},
	}
	for _, test := range tests {
		c, ok := parseWebSphereServerPath(test.path)
		if ok != test.ok || c != test.expected {
			t.Errorf("parseWebSphereServerPath(%s) expected %+v/%v, got %+v/%v", test.path, test.expected, test.ok, c, ok)
		}
	}
}

func TestWebSphereIsStillInstalled(t *testing.T) {
	deps := webSphereDeps()
	inst := NewWebSphereInstance(webSphereProfile, "Cell01", "Node01", "AppSrv01", "server1")
	if !inst.IsStillInstalled(deps) {
		t.Errorf("Expected instance to be installed")
	}
	deps = newFakeDeps()
	deps.addDir(webSphereProfile)
	if inst.IsStillInstalled(deps) {
		t.Errorf("Expected instance without profile.version to be gone")
	}
}
