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
	"encoding"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/superkkt/lswitch/northbound/app/l2switch"
	"github.com/superkkt/lswitch/openflow/transceiver"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/pkg/errors"
)

var (
	ErrClosedDevice = errors.New("already closed device")
)

const (
	// Priority of the learning flow rules. It should be greater than the table-miss flow.
	learningPriority  = 10
	tableMissPriority = 0

	// We use MSB of the cookie to represent whether the flow is table miss or not.
	tableMissCookie = 0x1 << 63
	learningCookie  = 0x1

	allTables          = 0xFF // OFPTT_ALL
	typeBarrierRequest = 20   // OFPT_BARRIER_REQUEST
)

type Features struct {
	DPID       uint64 `json:"dpid"`
	NumBuffers uint32 `json:"num_buffers"`
	NumTables  uint8  `json:"num_tables"`
}

type Port struct {
	Number uint32           `json:"number"`
	Name   string           `json:"name"`
	MAC    net.HardwareAddr `json:"mac"`
	Up     bool             `json:"up"`
}

func (r Port) String() string {
	return fmt.Sprintf("Port Number=%v, Name=%v, MAC=%v, Up=%v", r.Number, r.Name, r.MAC, r.Up)
}

// Device is a connected switch device. It implements l2switch.Switch.
type Device struct {
	mutex    sync.RWMutex
	id       uint64
	valid    bool
	writer   transceiver.Writer
	features Features
	ports    map[uint32]Port
	closed   bool
}

func newDevice(w transceiver.Writer) *Device {
	if w == nil {
		panic("Writer is nil")
	}

	return &Device{
		writer: w,
		ports:  make(map[uint32]Port),
	}
}

func (r *Device) String() string {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	v := fmt.Sprintf("Device DPID=%v, Features=%+v, # of ports=%v, Connected=%v\n", r.id, r.features, len(r.ports), !r.closed)
	for _, p := range r.ports {
		v += fmt.Sprintf("\t%v\n", p)
	}

	return v
}

func (r *Device) ID() uint64 {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.id
}

func (r *Device) setID(id uint64) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.id = id
	r.valid = true
}

// isValid returns whether the device has been identified by FEATURES_REPLY.
func (r *Device) isValid() bool {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.valid
}

func (r *Device) Features() Features {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.features
}

func (r *Device) setFeatures(f Features) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.features = f
}

// Ports returns the ports reported by PORT_STATUS in ascending order of their numbers.
func (r *Device) Ports() []Port {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p := make([]Port, 0, len(r.ports))
	for _, v := range r.ports {
		p = append(p, v)
	}
	sort.Slice(p, func(i, j int) bool { return p[i].Number < p[j].Number })

	return p
}

func (r *Device) updatePort(p Port) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.ports[p.Number] = p
}

func (r *Device) removePort(num uint32) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.ports, num)
}

func (r *Device) SendMessage(msg encoding.BinaryMarshaler) error {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if msg == nil {
		panic("Message is nil")
	}
	if r.closed {
		return ErrClosedDevice
	}

	return r.writer.Write(msg)
}

func (r *Device) Close() {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.closed = true
}

// idleTimeout converts the idle timeout in 10 milliseconds unit into seconds
// that OpenFlow 1.3 uses. It rounds up, and the minimum is one second.
func idleTimeout(v uint16) uint16 {
	sec := (uint32(v) + 99) / 100
	if sec == 0 {
		sec = 1
	}

	return uint16(sec)
}

func newFlowMatch(m l2switch.Match) *openflow13.Match {
	match := openflow13.NewMatch()
	match.AddField(*openflow13.NewInPortField(m.InPort))
	// Source MAC, ethertype and network protocol are always wildcarded, so
	// omitting their OXM fields is enough.
	match.AddField(*openflow13.NewEthDstField(l2switch.Uint64ToMAC(m.DstMAC), nil))

	return match
}

func newLearningFlowMod(command uint8, m l2switch.Match) *openflow13.FlowMod {
	flowmod := openflow13.NewFlowMod()
	flowmod.Command = command
	flowmod.TableId = 0
	flowmod.Cookie = learningCookie
	// DELETE_STRICT also requires the same priority.
	flowmod.Priority = learningPriority
	flowmod.Match = *newFlowMatch(m)

	return flowmod
}

func newOutputInstruction(port uint32, maxLen uint16) *openflow13.InstrActions {
	action := openflow13.NewActionOutput(port)
	action.MaxLen = maxLen
	inst := openflow13.NewInstrApplyActions()
	inst.AddAction(action, false)

	return inst
}

// InstallRule adds a flow rule that forwards the matching packets to the output port.
func (r *Device) InstallRule(rule l2switch.FlowRule) error {
	flowmod := newLearningFlowMod(openflow13.FC_ADD, rule.Match)
	flowmod.IdleTimeout = idleTimeout(rule.IdleTimeout)
	flowmod.HardTimeout = 0
	// The switch applies this flow rule to the buffered packet.
	flowmod.BufferId = rule.BufferID
	flowmod.AddInstruction(newOutputInstruction(rule.OutPort, openflow13.OFPCML_NO_BUFFER))

	return r.SendMessage(flowmod)
}

// DeleteRule removes the learning flow rule that strictly matches m.
func (r *Device) DeleteRule(m l2switch.Match) error {
	flowmod := newLearningFlowMod(openflow13.FC_DELETE_STRICT, m)
	// Regardless of the output port and group.
	flowmod.OutPort = openflow13.P_ANY
	flowmod.OutGroup = openflow13.OFPG_ANY

	return r.SendMessage(flowmod)
}

// rawFrame is an ethernet frame attached to PACKET_OUT as it is.
type rawFrame []byte

func (r rawFrame) Len() uint16 {
	return uint16(len(r))
}

func (r rawFrame) MarshalBinary() ([]byte, error) {
	return []byte(r), nil
}

func (r *rawFrame) UnmarshalBinary(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

func (r *Device) PacketOut(out l2switch.PacketOut) error {
	port := out.OutPort
	if out.Flood {
		// The switch excludes the ingress port from flooding.
		port = openflow13.P_FLOOD
	}

	msg := openflow13.NewPacketOut()
	msg.InPort = out.InPort
	msg.BufferId = out.BufferID
	msg.AddAction(openflow13.NewActionOutput(port))
	data := rawFrame(out.Payload)
	msg.Data = &data

	return r.SendMessage(msg)
}

// installTableMiss sends the packets that do not match any flow rule to the controller without buffering.
func (r *Device) installTableMiss() error {
	flowmod := openflow13.NewFlowMod()
	flowmod.Command = openflow13.FC_ADD
	flowmod.TableId = 0
	flowmod.Cookie = tableMissCookie
	// Permanent flow entry
	flowmod.IdleTimeout = 0
	flowmod.HardTimeout = 0
	flowmod.Priority = tableMissPriority
	flowmod.AddInstruction(newOutputInstruction(openflow13.P_CONTROLLER, openflow13.OFPCML_NO_BUFFER))

	return r.SendMessage(flowmod)
}

func newBarrierRequest() *common.Header {
	return &common.Header{
		Version: transceiver.Version,
		Type:    typeBarrierRequest,
		Length:  8,
	}
}

// removeAllFlows clears the flow rules left by the previous connection.
func (r *Device) removeAllFlows() error {
	flowmod := openflow13.NewFlowMod()
	flowmod.Command = openflow13.FC_DELETE
	flowmod.TableId = allTables
	flowmod.OutPort = openflow13.P_ANY
	flowmod.OutGroup = openflow13.OFPG_ANY
	if err := r.SendMessage(flowmod); err != nil {
		return err
	}

	// Make sure that the flows are removed before we install the new ones.
	return r.SendMessage(newBarrierRequest())
}
