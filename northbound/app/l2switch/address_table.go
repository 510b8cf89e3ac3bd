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
	"fmt"
	"net"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// AddressTable remembers the port where each MAC address was last seen, per switch device.
type AddressTable struct {
	mutex  sync.RWMutex
	size   int
	tables map[uint64]*lru.Cache // DPID to (MAC to port) LRU cache.
}

type Host struct {
	MAC  net.HardwareAddr `json:"mac"`
	Port uint32           `json:"port"`
}

// NewAddressTable returns a table that keeps at most size addresses per switch device.
func NewAddressTable(size int) *AddressTable {
	if size <= 0 {
		panic("size should be greater than zero")
	}

	return &AddressTable{
		size:   size,
		tables: make(map[uint64]*lru.Cache),
	}
}

// Ensure creates an empty address table for the switch if it does not exist.
func (r *AddressTable) Ensure(dpid uint64) {
	r.ensure(dpid)
}

func (r *AddressTable) ensure(dpid uint64) *lru.Cache {
	r.mutex.RLock()
	t, ok := r.tables[dpid]
	r.mutex.RUnlock()
	if ok {
		return t
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double check because another goroutine may have created it after we released the read lock.
	if t, ok := r.tables[dpid]; ok {
		return t
	}
	t, err := lru.New(r.size)
	if err != nil {
		panic(fmt.Sprintf("failed to init a LRU address table: %v", err))
	}
	r.tables[dpid] = t
	logger.Debugf("created a new address table for DPID %v", dpid)

	return t
}

func (r *AddressTable) table(dpid uint64) (*lru.Cache, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	t, ok := r.tables[dpid]
	return t, ok
}

// Learn records that mac was last seen on port of the switch. It overwrites the previous port.
func (r *AddressTable) Learn(dpid, mac uint64, port uint32) {
	if evicted := r.ensure(dpid).Add(mac, port); evicted {
		logger.Debugf("address table for DPID %v is full: the least recently used address is dropped", dpid)
	}
}

// Lookup returns the port learned for mac on the switch.
func (r *AddressTable) Lookup(dpid, mac uint64) (port uint32, ok bool) {
	t, ok := r.table(dpid)
	if !ok {
		return 0, false
	}
	v, ok := t.Get(mac)
	if !ok {
		return 0, false
	}

	return v.(uint32), true
}

// Remove deletes all the addresses learned on the switch. Removing an unknown switch is a no-op.
func (r *AddressTable) Remove(dpid uint64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.tables, dpid)
}

// Hosts returns a snapshot of the addresses learned on the switch.
func (r *AddressTable) Hosts(dpid uint64) []Host {
	t, ok := r.table(dpid)
	if !ok {
		return nil
	}

	hosts := make([]Host, 0, t.Len())
	for _, k := range t.Keys() {
		// Peek does not update the recentness of the key.
		v, ok := t.Peek(k)
		if !ok {
			// Evicted after we got the keys.
			continue
		}
		hosts = append(hosts, Host{MAC: Uint64ToMAC(k.(uint64)), Port: v.(uint32)})
	}

	return hosts
}

// Switches returns DPIDs of the switches that have an address table.
func (r *AddressTable) Switches() []uint64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	dpids := make([]uint64, 0, len(r.tables))
	for k := range r.tables {
		dpids = append(dpids, k)
	}
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	return dpids
}
