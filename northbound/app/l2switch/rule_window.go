/*
 * lswitch - A MAC Learning OpenFlow Controller
 *
 * Copyright (C) 2015-2019 Samjung Data Service, Inc. All rights reserved.
 *  Kitae Kim <superkkt@sds.co.kr>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package l2switch

import (
	"sort"
	"sync"
)

type windowKey struct {
	dpid uint64
	port uint32
}

type window struct {
	mutex sync.Mutex
	rules []Match // Oldest first.
}

// RuleWindow keeps the most recent flow rules installed for each ingress port
// of each switch device, so that we can delete the oldest one when a port
// exceeds its capacity.
type RuleWindow struct {
	mutex    sync.Mutex
	capacity int
	windows  map[windowKey]*window
}

// capacity is the maximum number of flow rules tracked per ingress port.
func NewRuleWindow(capacity int) *RuleWindow {
	if capacity <= 0 {
		panic("capacity should be greater than zero")
	}

	return &RuleWindow{
		capacity: capacity,
		windows:  make(map[windowKey]*window),
	}
}

func (r *RuleWindow) Capacity() int {
	return r.capacity
}

func (r *RuleWindow) get(dpid uint64, port uint32) *window {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := windowKey{dpid: dpid, port: port}
	w, ok := r.windows[key]
	if !ok {
		w = &window{rules: make([]Match, 0, r.capacity+1)}
		r.windows[key] = w
	}

	return w
}

// Record appends match to the window of the ingress port. If the window
// overflows, the oldest match is removed and returned so that the caller can
// delete its flow rule from the switch.
func (r *RuleWindow) Record(dpid uint64, port uint32, match Match) (evicted Match, ok bool) {
	w := r.get(dpid, port)

	// Insertion and eviction should be a single step, otherwise concurrent
	// records on the same port may evict the same element twice.
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.rules = append(w.rules, match)
	if len(w.rules) <= r.capacity {
		return Match{}, false
	}

	evicted = w.rules[0]
	// Shrink in place to reuse the underlying array.
	n := copy(w.rules, w.rules[1:])
	w.rules = w.rules[:n]

	return evicted, true
}

// Rules returns a copy of the window of the ingress port, oldest first.
func (r *RuleWindow) Rules(dpid uint64, port uint32) []Match {
	r.mutex.Lock()
	w, ok := r.windows[windowKey{dpid: dpid, port: port}]
	r.mutex.Unlock()
	if !ok {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	rules := make([]Match, len(w.rules))
	copy(rules, w.rules)

	return rules
}

// Ports returns the ingress ports of the switch that have a window, in ascending order.
func (r *RuleWindow) Ports(dpid uint64) []uint32 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ports := make([]uint32, 0)
	for k := range r.windows {
		if k.dpid == dpid {
			ports = append(ports, k.port)
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	return ports
}

// Remove clears all the windows of the switch.
func (r *RuleWindow) Remove(dpid uint64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for k := range r.windows {
		if k.dpid == dpid {
			delete(r.windows, k)
		}
	}
}
