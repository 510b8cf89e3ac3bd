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
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	pkgerrors "github.com/pkg/errors"
)

type command struct {
	Install *FlowRule
	Delete  *Match
	Out     *PacketOut
}

type dummySwitch struct {
	dpid     uint64
	commands []command
	err      error
	// deleteErr fails DeleteRule only.
	deleteErr error
}

func (r *dummySwitch) ID() uint64 {
	return r.dpid
}

func (r *dummySwitch) InstallRule(f FlowRule) error {
	if r.err != nil {
		return r.err
	}
	r.commands = append(r.commands, command{Install: &f})
	return nil
}

func (r *dummySwitch) DeleteRule(m Match) error {
	if r.err != nil {
		return r.err
	}
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.commands = append(r.commands, command{Delete: &m})
	return nil
}

func (r *dummySwitch) PacketOut(p PacketOut) error {
	if r.err != nil {
		return r.err
	}
	r.commands = append(r.commands, command{Out: &p})
	return nil
}

func (r *dummySwitch) reset() []command {
	c := r.commands
	r.commands = nil
	return c
}

var (
	macA = net.HardwareAddr{0xfa, 0xdd, 0xfd, 0xb8, 0xbb, 0xaa}
	macB = net.HardwareAddr{0xfa, 0xdd, 0xfd, 0xb8, 0xaa, 0xbb}
	macC = net.HardwareAddr{0xfa, 0xdd, 0xfd, 0xb8, 0xaa, 0xcc}
	macD = net.HardwareAddr{0xfa, 0xdd, 0xfd, 0xb8, 0xaa, 0xdd}
)

func newTestSwitch(t *testing.T) *L2Switch {
	sw, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create a L2 switch: %v", err)
	}
	return sw
}

func packet(inPort uint32, src, dst net.HardwareAddr, bufferID uint32) Packet {
	return Packet{
		InPort:    inPort,
		SrcMAC:    src,
		DstMAC:    dst,
		EtherType: 0x0800,
		BufferID:  bufferID,
		Payload:   append(append([]byte{}, dst...), src...),
	}
}

func TestFloodThenInstall(t *testing.T) {
	l2 := newTestSwitch(t)
	sw := &dummySwitch{dpid: 1}

	// A -> B on port 1: B is unknown.
	p1 := packet(1, macA, macB, NoBuffer)
	if err := l2.OnPacketIn(sw, p1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []command{
		{Out: &PacketOut{InPort: 1, Flood: true, BufferID: NoBuffer, Payload: p1.Payload}},
	}
	if diff := cmp.Diff(expected, sw.reset()); diff != "" {
		t.Fatalf("unexpected commands (-expected +got):\n%v", diff)
	}
	if port, ok := l2.Table().Lookup(1, MACToUint64(macA)); !ok || port != 1 {
		t.Fatalf("A is not learned on port 1: port=%v, ok=%v", port, ok)
	}

	// B -> A on port 2: A is known on port 1.
	p2 := packet(2, macB, macA, NoBuffer)
	if err := l2.OnPacketIn(sw, p2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	match := Match{InPort: 2, DstMAC: MACToUint64(macA), Wildcards: WildcardSrcMAC | WildcardEtherType | WildcardNetworkProto}
	expected = []command{
		{Install: &FlowRule{Match: match, OutPort: 1, IdleTimeout: DefaultIdleTimeout, BufferID: NoBuffer}},
		{Out: &PacketOut{InPort: 2, OutPort: 1, BufferID: NoBuffer, Payload: p2.Payload}},
	}
	if diff := cmp.Diff(expected, sw.reset()); diff != "" {
		t.Fatalf("unexpected commands (-expected +got):\n%v", diff)
	}
	if port, ok := l2.Table().Lookup(1, MACToUint64(macB)); !ok || port != 2 {
		t.Fatalf("B is not learned on port 2: port=%v, ok=%v", port, ok)
	}
}

func TestBufferedPacket(t *testing.T) {
	l2 := newTestSwitch(t)
	sw := &dummySwitch{dpid: 1}

	// Buffered flood does not carry the payload.
	if err := l2.OnPacketIn(sw, packet(1, macA, macB, 77)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []command{
		{Out: &PacketOut{InPort: 1, Flood: true, BufferID: 77}},
	}
	if diff := cmp.Diff(expected, sw.reset()); diff != "" {
		t.Fatalf("unexpected commands (-expected +got):\n%v", diff)
	}

	// Buffered install has no additional packet out.
	if err := l2.OnPacketIn(sw, packet(2, macB, macA, 78)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	commands := sw.reset()
	if len(commands) != 1 || commands[0].Install == nil {
		t.Fatalf("expected exactly one install command: %+v", commands)
	}
	if commands[0].Install.OutPort != 1 || commands[0].Install.BufferID != 78 {
		t.Fatalf("unexpected flow rule: %v", commands[0].Install)
	}
}

func TestUnknownDestinationAlwaysFloods(t *testing.T) {
	l2 := newTestSwitch(t)
	sw := &dummySwitch{dpid: 9}

	for i, src := range []net.HardwareAddr{macA, macB, macC} {
		if err := l2.OnPacketIn(sw, packet(uint32(i+1), src, macD, NoBuffer)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, c := range sw.reset() {
			if c.Install != nil {
				t.Fatalf("unexpected install command for an unknown destination: %v", c.Install)
			}
			if c.Out == nil || !c.Out.Flood {
				t.Fatalf("expected a flood command: %+v", c)
			}
		}
	}
}

func TestEviction(t *testing.T) {
	l2 := newTestSwitch(t)
	sw := &dummySwitch{dpid: 1}

	// Learn B, C and D on port 2, 3 and 4.
	for i, mac := range []net.HardwareAddr{macB, macC, macD} {
		if err := l2.OnPacketIn(sw, packet(uint32(i+2), mac, macA, NoBuffer)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	sw.reset()

	// A sends packets to B, C and D on port 1. The third one evicts the first rule.
	for _, dst := range []net.HardwareAddr{macB, macC} {
		if err := l2.OnPacketIn(sw, packet(1, macA, dst, NoBuffer)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, c := range sw.reset() {
			if c.Delete != nil {
				t.Fatalf("unexpected delete command before the window is full: %v", c.Delete)
			}
		}
	}
	if err := l2.OnPacketIn(sw, packet(1, macA, macD, NoBuffer)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	commands := sw.reset()
	if len(commands) != 3 {
		t.Fatalf("unexpected number of commands: %+v", commands)
	}
	expected := Match{InPort: 1, DstMAC: MACToUint64(macB), Wildcards: learningWildcards}
	if commands[0].Delete == nil || *commands[0].Delete != expected {
		t.Fatalf("expected the deletion of %v: %+v", expected, commands[0])
	}
	if commands[1].Install == nil || commands[1].Install.OutPort != 4 {
		t.Fatalf("expected a flow rule to port 4: %+v", commands[1])
	}

	window := l2.Window().Rules(1, 1)
	if len(window) != DefaultWindowCapacity {
		t.Fatalf("unexpected window length: %v", len(window))
	}
}

func TestEvictionFailure(t *testing.T) {
	l2 := newTestSwitch(t)
	sw := &dummySwitch{dpid: 1}

	for i, mac := range []net.HardwareAddr{macB, macC, macD} {
		if err := l2.OnPacketIn(sw, packet(uint32(i+2), mac, macA, NoBuffer)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for _, dst := range []net.HardwareAddr{macB, macC} {
		if err := l2.OnPacketIn(sw, packet(1, macA, dst, NoBuffer)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	sw.reset()

	failure := errors.New("flow table is locked")
	sw.deleteErr = failure
	err := l2.OnPacketIn(sw, packet(1, macA, macD, NoBuffer))
	if pkgerrors.Cause(err) != failure {
		t.Fatalf("expected the delete error, got %v", err)
	}

	// The packet is still forwarded to D.
	commands := sw.reset()
	if len(commands) != 2 {
		t.Fatalf("unexpected number of commands: %+v", commands)
	}
	if commands[0].Install == nil || commands[0].Install.OutPort != 4 {
		t.Fatalf("expected a flow rule to port 4: %+v", commands[0])
	}
	if commands[1].Out == nil || commands[1].Out.OutPort != 4 {
		t.Fatalf("expected a packet out to port 4: %+v", commands[1])
	}

	expected := []Match{
		{InPort: 1, DstMAC: MACToUint64(macC), Wildcards: learningWildcards},
		{InPort: 1, DstMAC: MACToUint64(macD), Wildcards: learningWildcards},
	}
	if diff := cmp.Diff(expected, l2.Window().Rules(1, 1)); diff != "" {
		t.Fatalf("unexpected window (-want +got):\n%v", diff)
	}
}

func TestDeviceDown(t *testing.T) {
	l2 := newTestSwitch(t)
	sw := &dummySwitch{dpid: 3}

	if err := l2.OnDeviceUp(sw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l2.OnPacketIn(sw, packet(1, macA, macB, NoBuffer)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l2.OnDeviceDown(sw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l2.Table().Lookup(3, MACToUint64(macA)); ok {
		t.Fatal("address is still known after the device is down")
	}
	if len(l2.Window().Ports(3)) != 0 {
		t.Fatal("rule windows still exist after the device is down")
	}
	// Unknown device.
	if err := l2.OnDeviceDown(&dummySwitch{dpid: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMalformedPacket(t *testing.T) {
	l2 := newTestSwitch(t)
	sw := &dummySwitch{dpid: 1}

	src := []Packet{
		{InPort: 1, SrcMAC: nil, DstMAC: macB, BufferID: 1},
		{InPort: 1, SrcMAC: macA, DstMAC: net.HardwareAddr{0x01}, BufferID: 1},
		{InPort: 1, SrcMAC: macA, DstMAC: macB, BufferID: NoBuffer},
	}
	for i, v := range src {
		err := l2.OnPacketIn(sw, v)
		if pkgerrors.Cause(err) != ErrMalformedPacket {
			t.Fatalf("#%v: expected ErrMalformedPacket, got %v", i, err)
		}
	}
	if len(sw.commands) != 0 {
		t.Fatalf("unexpected commands for malformed packets: %+v", sw.commands)
	}
	if len(l2.Table().Switches()) != 0 {
		t.Fatal("malformed packets mutate the address table")
	}
}

func TestCommandError(t *testing.T) {
	l2 := newTestSwitch(t)
	failure := errors.New("broken pipe")
	sw := &dummySwitch{dpid: 1, err: failure}

	err := l2.OnPacketIn(sw, packet(1, macA, macB, NoBuffer))
	if pkgerrors.Cause(err) != failure {
		t.Fatalf("expected the command error, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	src := []Config{
		{WindowCapacity: 0, IdleTimeout: 500, MACTableSize: 1},
		{WindowCapacity: 2, IdleTimeout: 0, MACTableSize: 1},
		{WindowCapacity: 2, IdleTimeout: 500, MACTableSize: 0},
	}
	for i, v := range src {
		if _, err := New(v); err == nil {
			t.Fatalf("#%v: expected error, but no error returns", i)
		}
	}
}
