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
	"sort"
)

// RemoveNonExistent drops instances that are no longer installed.
func RemoveNonExistent(instances []*Instance, deps Deps) []*Instance {
	var kept []*Instance
	for _, i := range instances {
		if i.IsStillInstalled(deps) {
			kept = append(kept, i)
		}
	}
	return kept
}

// MergeInstances combines previously known instances with the ones found
// running. Known instances that are no longer installed are dropped and the
// rest are marked not running. A running instance wins over a known one with
// the same id and inherits its deep monitoring settings. The result is sorted
// by disk path.
func MergeInstances(known, running []*Instance, deps Deps) []*Instance {
	known = RemoveNonExistent(known, deps)
	previous := make(map[string]*Instance, len(known))
	for _, k := range known {
		k.IsRunning = false
		if _, ok := previous[k.ID]; !ok {
			previous[k.ID] = k
		}
	}
	all := make([]*Instance, 0, len(known)+len(running))
	for _, r := range running {
		if p, ok := previous[r.ID]; ok && p.IsDeepMonitored {
			// Ports may have changed since, leave it off if so.
			_ = r.SetDeepMonitored(true, p.Protocol)
		}
		all = append(all, r)
	}
	all = append(all, known...)
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].DiskPath != all[b].DiskPath {
			return all[a].DiskPath < all[b].DiskPath
		}
		return all[a].ID < all[b].ID
	})
	merged := make([]*Instance, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, i := range all {
		if seen[i.ID] {
			continue
		}
		seen[i.ID] = true
		merged = append(merged, i)
	}
	return merged
}
