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
	"strings"

	"github.com/pkg/errors"
)

// NoBuffer is the buffer ID meaning that the switch did not buffer the packet,
// so the full payload is attached to the event.
const NoBuffer uint32 = 0xFFFFFFFF

var (
	ErrMalformedPacket = errors.New("malformed packet")
)

// Wildcards is a set of match fields that are ignored by a flow rule.
type Wildcards uint8

const (
	WildcardSrcMAC Wildcards = 1 << iota
	WildcardEtherType
	WildcardNetworkProto
)

// learningWildcards is the wildcard set of every rule installed by the engine.
const learningWildcards = WildcardSrcMAC | WildcardEtherType | WildcardNetworkProto

func (r Wildcards) String() string {
	fields := make([]string, 0)
	if r&WildcardSrcMAC != 0 {
		fields = append(fields, "dl_src")
	}
	if r&WildcardEtherType != 0 {
		fields = append(fields, "dl_type")
	}
	if r&WildcardNetworkProto != 0 {
		fields = append(fields, "nw_proto")
	}

	return strings.Join(fields, "|")
}

// Match is the template of a learning rule: packets coming in on InPort and
// heading to DstMAC, whatever their source, ethertype and network protocol.
type Match struct {
	InPort    uint32
	DstMAC    uint64
	Wildcards Wildcards
}

func newMatch(p Packet) Match {
	return Match{
		InPort:    p.InPort,
		DstMAC:    MACToUint64(p.DstMAC),
		Wildcards: learningWildcards,
	}
}

func (r Match) String() string {
	return fmt.Sprintf("InPort=%v, DstMAC=%v, Wildcards=%v", r.InPort, Uint64ToMAC(r.DstMAC), r.Wildcards)
}

// MACToUint64 packs a 48-bit hardware address into the lower bits of an unsigned integer.
func MACToUint64(mac net.HardwareAddr) uint64 {
	var v uint64
	for _, b := range mac {
		v = v<<8 | uint64(b)
	}

	return v
}

func Uint64ToMAC(v uint64) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		mac[i] = byte(v)
		v >>= 8
	}

	return mac
}

// Packet is a PACKET_IN event delivered by a switch.
type Packet struct {
	InPort       uint32
	SrcMAC       net.HardwareAddr
	DstMAC       net.HardwareAddr
	EtherType    uint16
	NetworkProto uint8
	// BufferID is NoBuffer if the switch did not buffer the packet.
	BufferID uint32
	// Payload is the raw ethernet frame.
	Payload []byte
}

func (r Packet) Buffered() bool {
	return r.BufferID != NoBuffer
}

func (r Packet) validate() error {
	if len(r.SrcMAC) != 6 {
		return errors.Wrapf(ErrMalformedPacket, "invalid source MAC address: %v", r.SrcMAC)
	}
	if len(r.DstMAC) != 6 {
		return errors.Wrapf(ErrMalformedPacket, "invalid destination MAC address: %v", r.DstMAC)
	}
	// We cannot forward an unbuffered packet without its payload.
	if !r.Buffered() && len(r.Payload) == 0 {
		return errors.Wrap(ErrMalformedPacket, "empty payload on the unbuffered packet")
	}

	return nil
}

// FlowRule is an install-rule command: forward packets matching Match to OutPort.
type FlowRule struct {
	Match   Match
	OutPort uint32
	// IdleTimeout is in 10 milliseconds unit.
	IdleTimeout uint16
	BufferID    uint32
}

func (r FlowRule) String() string {
	return fmt.Sprintf("%v, OutPort=%v, IdleTimeout=%v, BufferID=%v", r.Match, r.OutPort, r.IdleTimeout, r.BufferID)
}

// PacketOut is a forward-packet command. Payload is nil for a buffered packet.
type PacketOut struct {
	InPort uint32
	// Flood sends the packet to all ports except InPort, and OutPort is ignored.
	Flood    bool
	OutPort  uint32
	BufferID uint32
	Payload  []byte
}

// Switch is the command side of a switch device that the engine controls.
type Switch interface {
	ID() uint64
	InstallRule(FlowRule) error
	// DeleteRule removes the flow rule that strictly matches the match regardless of its output port.
	DeleteRule(Match) error
	PacketOut(PacketOut) error
}
