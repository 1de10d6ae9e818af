/*
 * Lingualink
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package balancer

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"slices"
	"sort"
)

// vnodesPerWeight is how many virtual nodes one unit of weight contributes.
const vnodesPerWeight = 10

type vnode struct {
	hash    [md5.Size]byte
	backend string
}

// hashRing maps request keys onto backends via MD5-positioned virtual
// nodes. The ring is rebuilt only on Add and Remove, never on health flaps,
// so a key's position is stable while its backend stays registered. Lookups
// filter by the healthy subset instead.
//
// Access is guarded by the registry lock.
type hashRing struct {
	vnodes []vnode
}

func newHashRing() *hashRing {
	return &hashRing{}
}

// add inserts weight*10 virtual nodes for the backend.
func (r *hashRing) add(name string, weight int) {
	for i := 0; i < weight*vnodesPerWeight; i++ {
		r.vnodes = append(r.vnodes, vnode{
			hash:    md5.Sum(fmt.Appendf(nil, "%s#%d", name, i)),
			backend: name,
		})
	}
	sort.Slice(r.vnodes, func(i, j int) bool {
		return bytes.Compare(r.vnodes[i].hash[:], r.vnodes[j].hash[:]) < 0
	})
}

// remove drops every virtual node of the backend.
func (r *hashRing) remove(name string) {
	r.vnodes = slices.DeleteFunc(r.vnodes, func(v vnode) bool {
		return v.backend == name
	})
}

// lookup hashes the request key and walks clockwise from its position to
// the first virtual node whose backend is eligible, wrapping around.
func (r *hashRing) lookup(requestKey string, eligible map[string]bool) (string, bool) {
	if len(r.vnodes) == 0 || len(eligible) == 0 {
		return "", false
	}
	key := md5.Sum([]byte(requestKey))
	start := sort.Search(len(r.vnodes), func(i int) bool {
		return bytes.Compare(r.vnodes[i].hash[:], key[:]) >= 0
	})
	for i := 0; i < len(r.vnodes); i++ {
		v := r.vnodes[(start+i)%len(r.vnodes)]
		if eligible[v.backend] {
			return v.backend, true
		}
	}
	return "", false
}
