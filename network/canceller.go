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

package network

import (
	"context"
	"sync"
)

// canceller keeps the cancel function of each device session to disconnect it from the other session.
type canceller struct {
	mu    sync.Mutex
	elems map[uint64]cancelEntry
}

type cancelEntry struct {
	owner  *Device
	cancel context.CancelFunc
}

func newCanceller() *canceller {
	return &canceller{elems: make(map[uint64]cancelEntry)}
}

func (r *canceller) push(owner *Device, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.elems[owner.ID()] = cancelEntry{owner: owner, cancel: cancel}
}

// pop removes the cancel function of the session that owns dpid, whoever it is.
func (r *canceller) pop(dpid uint64) (cancel context.CancelFunc, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.elems[dpid]
	if !ok {
		return nil, false
	}
	delete(r.elems, dpid)

	return v.cancel, true
}

// remove deletes the cancel function of owner. It leaves the entry of another
// session that has taken over the same DPID.
func (r *canceller) remove(owner *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.elems[owner.ID()]
	if !ok || v.owner != owner {
		return false
	}
	delete(r.elems, owner.ID())

	return true
}
