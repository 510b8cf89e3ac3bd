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

	"github.com/superkkt/lswitch/metrics"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("l2switch")
)

const (
	DefaultWindowCapacity = 2
	// 500 x 10ms = 5 seconds.
	DefaultIdleTimeout  = 500
	DefaultMACTableSize = 8192
)

type Config struct {
	// Maximum number of flow rules tracked per ingress port.
	WindowCapacity int
	// Idle timeout of the installed flow rules in 10 milliseconds unit.
	IdleTimeout uint16
	// Maximum number of MAC addresses learned per switch device.
	MACTableSize int
}

func DefaultConfig() Config {
	return Config{
		WindowCapacity: DefaultWindowCapacity,
		IdleTimeout:    DefaultIdleTimeout,
		MACTableSize:   DefaultMACTableSize,
	}
}

func (r Config) validate() error {
	if r.WindowCapacity <= 0 {
		return fmt.Errorf("invalid window capacity: %v", r.WindowCapacity)
	}
	if r.IdleTimeout == 0 {
		return errors.New("zero idle timeout")
	}
	if r.MACTableSize <= 0 {
		return fmt.Errorf("invalid MAC table size: %v", r.MACTableSize)
	}

	return nil
}

// L2Switch is a MAC learning switch that caps the number of learning rules
// installed per ingress port.
type L2Switch struct {
	table       *AddressTable
	window      *RuleWindow
	idleTimeout uint16
}

func New(conf Config) (*L2Switch, error) {
	if err := conf.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid l2switch config")
	}

	return &L2Switch{
		table:       NewAddressTable(conf.MACTableSize),
		window:      NewRuleWindow(conf.WindowCapacity),
		idleTimeout: conf.IdleTimeout,
	}, nil
}

func (r *L2Switch) Name() string {
	return "L2Switch"
}

func (r *L2Switch) Table() *AddressTable {
	return r.table
}

func (r *L2Switch) Window() *RuleWindow {
	return r.window
}

func (r *L2Switch) OnPacketIn(sw Switch, p Packet) error {
	if sw == nil {
		panic("nil switch")
	}

	dpid := sw.ID()
	metrics.RecordPacketIn(dpid)
	// Reject a broken event before touching any table.
	if err := p.validate(); err != nil {
		metrics.RecordMalformedPacket(dpid)
		return err
	}
	logger.Debugf("PACKET_IN.. DPID=%v, InPort=%v, SrcMAC=%v, DstMAC=%v, BufferID=%v", dpid, p.InPort, p.SrcMAC, p.DstMAC, p.BufferID)

	r.table.Ensure(dpid)
	match := newMatch(p)
	r.table.Learn(dpid, MACToUint64(p.SrcMAC), p.InPort)

	var evictErr error
	if evicted, ok := r.window.Record(dpid, p.InPort, match); ok {
		if err := sw.DeleteRule(evicted); err != nil {
			// The window has already dropped the evicted rule, so it stays on the
			// switch until its idle timeout. Still forward the current packet.
			logger.Errorf("flow rule is left untracked on port %v: DPID=%v, %v", p.InPort, dpid, evicted)
			evictErr = errors.Wrapf(err, "removing the evicted flow rule (DPID=%v, %v)", dpid, evicted)
		} else {
			metrics.RecordFlowEvict(dpid)
			logger.Debugf("removed the oldest flow rule on port %v: DPID=%v, %v", p.InPort, dpid, evicted)
		}
	}

	if err := r.forward(sw, p, match); err != nil {
		return err
	}

	return evictErr
}

func (r *L2Switch) forward(sw Switch, p Packet, match Match) error {
	outPort, ok := r.table.Lookup(sw.ID(), match.DstMAC)
	if !ok {
		logger.Debugf("unknown destination! flooding.. DPID=%v, SrcMAC=%v, DstMAC=%v", sw.ID(), p.SrcMAC, p.DstMAC)
		return r.flood(sw, p)
	}

	return r.switching(sw, p, match, outPort)
}

// flood broadcasts the packet to all ports on the switch, except the ingress port itself.
func (r *L2Switch) flood(sw Switch, p Packet) error {
	out := PacketOut{
		InPort:   p.InPort,
		Flood:    true,
		BufferID: p.BufferID,
	}
	if !p.Buffered() {
		out.Payload = p.Payload
	}
	if err := sw.PacketOut(out); err != nil {
		return errors.Wrapf(err, "flooding a packet (DPID=%v, InPort=%v)", sw.ID(), p.InPort)
	}
	metrics.RecordFlood(sw.ID())

	return nil
}

func (r *L2Switch) switching(sw Switch, p Packet, match Match, outPort uint32) error {
	rule := FlowRule{
		Match:       match,
		OutPort:     outPort,
		IdleTimeout: r.idleTimeout,
		BufferID:    p.BufferID,
	}
	if err := sw.InstallRule(rule); err != nil {
		return errors.Wrapf(err, "installing a flow rule (DPID=%v, %v)", sw.ID(), rule)
	}
	metrics.RecordFlowInstall(sw.ID())
	logger.Debugf("installed a new flow rule: DPID=%v, %v", sw.ID(), rule)

	// The switch releases a buffered packet through the new flow rule. An
	// unbuffered one never reaches the switch again unless we send it.
	if p.Buffered() {
		return nil
	}
	out := PacketOut{
		InPort:   p.InPort,
		OutPort:  outPort,
		BufferID: NoBuffer,
		Payload:  p.Payload,
	}
	logger.Debugf("sending a packet (SrcMAC=%v, DstMAC=%v) to port %v..", p.SrcMAC, p.DstMAC, outPort)
	if err := sw.PacketOut(out); err != nil {
		return errors.Wrapf(err, "sending a packet to port %v (DPID=%v)", outPort, sw.ID())
	}

	return nil
}

// OnDeviceUp does nothing because the tables are created on the first packet from the device.
func (r *L2Switch) OnDeviceUp(sw Switch) error {
	logger.Infof("device is up: DPID=%v", sw.ID())
	return nil
}

func (r *L2Switch) OnDeviceDown(sw Switch) error {
	dpid := sw.ID()
	logger.Infof("device is down: DPID=%v", dpid)

	r.table.Remove(dpid)
	r.window.Remove(dpid)
	logger.Debugf("removed the address table and the rule windows of DPID %v", dpid)

	return nil
}

func (r *L2Switch) String() string {
	v := fmt.Sprintf("%v (window capacity=%v, idle timeout=%v)\n", r.Name(), r.window.Capacity(), r.idleTimeout)
	for _, dpid := range r.table.Switches() {
		v += fmt.Sprintf("\tDPID=%v, # of hosts=%v, # of ports=%v\n", dpid, len(r.table.Hosts(dpid)), len(r.window.Ports(dpid)))
	}

	return v
}
