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
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/superkkt/lswitch/metrics"
	"github.com/superkkt/lswitch/northbound/app/l2switch"

	"github.com/op/go-logging"
)

var (
	logger = logging.MustGetLogger("network")
)

type EventListener interface {
	OnPacketIn(l2switch.Switch, l2switch.Packet) error
	OnDeviceUp(l2switch.Switch) error
	OnDeviceDown(l2switch.Switch) error
}

// Controller keeps track of the connected switch devices and delivers their events to the listener.
type Controller struct {
	mutex     sync.RWMutex
	devices   map[uint64]*Device
	listener  EventListener
	canceller *canceller
}

func NewController(l EventListener) *Controller {
	if l == nil {
		panic("nil event listener")
	}

	return &Controller{
		devices:   make(map[uint64]*Device),
		listener:  l,
		canceller: newCanceller(),
	}
}

// AddConnection starts a new session on the connection. The session is closed when ctx is canceled.
func (r *Controller) AddConnection(ctx context.Context, c net.Conn) {
	session := newSession(sessionConfig{
		conn:      c,
		registry:  r,
		listener:  r.listener,
		canceller: r.canceller,
	})
	go session.Run(ctx)
}

// addDevice returns false if there is already a device whose DPID is same with d.
func (r *Controller) addDevice(d *Device) bool {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.devices[d.ID()]; ok {
		return false
	}
	r.devices[d.ID()] = d
	logger.Infof("added a new device: DPID=%v", d.ID())

	return true
}

// removeDevice removes d only if d is the registered one, and returns whether it was.
// cleanup runs before the DPID is released, so that a new session of the same
// device cannot be added until it returns.
func (r *Controller) removeDevice(d *Device, cleanup func()) bool {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v, ok := r.devices[d.ID()]
	if !ok || v != d {
		return false
	}
	if cleanup != nil {
		cleanup()
	}
	delete(r.devices, d.ID())
	metrics.Reset(d.ID())
	logger.Infof("removed the device: DPID=%v", d.ID())

	return true
}

// Device may return nil if there is no device whose DPID is dpid.
func (r *Controller) Device(dpid uint64) *Device {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.devices[dpid]
}

// Devices returns the connected devices in ascending order of their DPIDs.
func (r *Controller) Devices() []*Device {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	v := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		v = append(v, d)
	}
	sort.Slice(v, func(i, j int) bool { return v[i].ID() < v[j].ID() })

	return v
}

func (r *Controller) String() string {
	devices := r.Devices()

	v := fmt.Sprintf("Controller (# of devices=%v)\n", len(devices))
	for _, d := range devices {
		v += d.String()
	}

	return v
}
