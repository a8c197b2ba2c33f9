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
	"bytes"
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/net/html/charset"
)

var placeholderRegexp = regexp.MustCompile(`^\$\{([^}:]*)(?::([^}]*))?\}$`)

// element is a generic XML node. Names are matched on their local part so
// namespaced documents such as serverindex.xml need no special handling.
// Lookups on a nil element find nothing.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

func parseXML(data []byte) (*element, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charset.NewReaderLabel
	var root element
	if err := decoder.Decode(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

// loadXML reads and decodes path. It returns nil when the document can't be
// used, including when its root element is not rootName.
func loadXML(deps Deps, logger log.Logger, path, rootName string) *element {
	data, ok := readFile(deps, logger, path)
	if !ok {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		level.Debug(logger).Log("msg", "Empty file", "path", path)
		return nil
	}
	root, err := parseXML(data)
	if err != nil {
		level.Error(logger).Log("msg", "Could not load XML", "path", path, "err", err)
		return nil
	}
	if root.name() != rootName {
		level.Debug(logger).Log("msg", "Unexpected root element", "path", path, "root", root.name(), "expected", rootName)
		return nil
	}
	return root
}

func (e *element) name() string {
	return e.XMLName.Local
}

func (e *element) text() string {
	return strings.TrimSpace(e.Content)
}

func (e *element) attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (e *element) attrValue(name string) string {
	v, _ := e.attr(name)
	return v
}

// child returns the first child named name.
func (e *element) child(name string) *element {
	if e == nil {
		return nil
	}
	for i := range e.Children {
		if e.Children[i].name() == name {
			return &e.Children[i]
		}
	}
	return nil
}

func (e *element) children(name string) []*element {
	if e == nil {
		return nil
	}
	var found []*element
	for i := range e.Children {
		if e.Children[i].name() == name {
			found = append(found, &e.Children[i])
		}
	}
	return found
}

// find returns the first child named name whose attribute key equals value.
func (e *element) find(name, key, value string) *element {
	for _, c := range e.children(name) {
		if v, ok := c.attr(key); ok && v == value {
			return c
		}
	}
	return nil
}

// path follows a chain of first children.
func (e *element) path(names ...string) *element {
	cur := e
	for _, n := range names {
		if cur = cur.child(n); cur == nil {
			return nil
		}
	}
	return cur
}

// parsePort returns s if it is a valid TCP port number, otherwise "".
func parsePort(s string) string {
	n, ok := portNumber(s)
	if !ok {
		return ""
	}
	return strconv.Itoa(n)
}

func portNumber(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, false
	}
	return n, true
}

// addOffset shifts a base port, returning "" when the base is invalid or the
// result is out of range.
func addOffset(base string, offset int) string {
	n, ok := portNumber(base)
	if !ok {
		return ""
	}
	return parsePort(strconv.Itoa(n + offset))
}

// parseOffset resolves a port offset. A plain non-numeric literal is treated
// as 0. A ${property:default} expression resolves to its default, and is
// unresolved (ok=false) when the default is missing or not numeric.
func parseOffset(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	if m := placeholderRegexp.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(strings.TrimSpace(m[2]))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true
	}
	return n, true
}

// resolvePlaceholder returns the default of a ${property:default} expression,
// or s unchanged when it is not one.
func resolvePlaceholder(s string) string {
	s = strings.TrimSpace(s)
	if m := placeholderRegexp.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[2])
	}
	return s
}
