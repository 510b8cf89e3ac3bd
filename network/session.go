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
	"encoding/binary"
	"net"

	"github.com/superkkt/lswitch/northbound/app/l2switch"
	"github.com/superkkt/lswitch/openflow/transceiver"
	"github.com/superkkt/lswitch/protocol"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

const (
	// Buffer size of the socket reader.
	streamBufSize = 0xFFFF

	// ofp_port_reason
	portAdded    = 0
	portDeleted  = 1
	portModified = 2
	// OFPPC_PORT_DOWN and OFPPS_LINK_DOWN
	portDown = 1 << 0
	linkDown = 1 << 0
)

var (
	errDuplicatedDevice = errors.New("duplicated device DPID (aux. connection is not supported yet)")
)

type registry interface {
	addDevice(*Device) bool
	removeDevice(d *Device, cleanup func()) bool
}

type session struct {
	device      *Device
	transceiver *transceiver.Transceiver
	registry    registry
	listener    EventListener
	cancellers  *canceller
	// A cancel function to disconnect this session.
	canceller context.CancelFunc
}

type sessionConfig struct {
	conn      net.Conn
	registry  registry
	listener  EventListener
	canceller *canceller
}

func checkParam(c sessionConfig) {
	if c.conn == nil {
		panic("Conn is nil")
	}
	if c.registry == nil {
		panic("Registry is nil")
	}
	if c.listener == nil {
		panic("Listener is nil")
	}
	if c.canceller == nil {
		panic("Canceller is nil")
	}
}

func newSession(c sessionConfig) *session {
	checkParam(c)

	v := new(session)
	v.registry = c.registry
	v.listener = c.listener
	v.cancellers = c.canceller
	v.transceiver = transceiver.NewTransceiver(transceiver.NewStream(c.conn, streamBufSize), v)
	v.device = newDevice(v.transceiver)

	return v
}

func (r *session) OnHello(w transceiver.Writer) error {
	logger.Debug("HELLO is received")

	if err := w.Write(openflow13.NewFeaturesRequest()); err != nil {
		return errors.Wrap(err, "failed to send FEATURES_REQUEST")
	}

	return nil
}

func (r *session) OnError(w transceiver.Writer, v *openflow13.ErrorMsg) error {
	// Just log the error because the flow rules that we sent are still recorded.
	logger.Errorf("ERROR (DPID=%v, type=%v, code=%v)", r.device.ID(), v.Type, v.Code)
	return nil
}

func (r *session) OnFeaturesReply(w transceiver.Writer, v *openflow13.SwitchFeatures) error {
	if len(v.DPID) != 8 {
		return errors.Errorf("invalid DPID: %v", v.DPID)
	}
	dpid := binary.BigEndian.Uint64(v.DPID)
	logger.Debugf("FEATURES_REPLY (DPID=%v, NumBufs=%v, NumTables=%v)", dpid, v.Buffers, v.NumTables)

	// First FeaturesReply packet?
	if r.device.isValid() {
		logger.Debug("ignoring the additional FEATURES_REPLY")
		return nil
	}

	r.device.setID(dpid)
	r.device.setFeatures(Features{
		DPID:       dpid,
		NumBuffers: v.Buffers,
		NumTables:  v.NumTables,
	})
	if !r.registry.addDevice(r.device) {
		cancel, ok := r.cancellers.pop(dpid)
		if ok {
			// Disconnect the previous session. A switch may try to make a new
			// fresh connection after a momentary physical disconnection, and it
			// does not work properly until we drop the stale one.
			cancel()
		}
		return errDuplicatedDevice
	}
	r.cancellers.push(r.device, r.canceller)

	if err := r.device.removeAllFlows(); err != nil {
		return errors.Wrap(err, "failed to remove all flows")
	}
	if err := r.device.installTableMiss(); err != nil {
		return errors.Wrap(err, "failed to set table_miss flow entry")
	}

	// We assume a device is up after setting its DPID and the table-miss flow.
	return r.listener.OnDeviceUp(r.device)
}

func (r *session) OnPortStatus(w transceiver.Writer, v *openflow13.PortStatus) error {
	port := Port{
		Number: v.Desc.PortNo,
		Name:   portName(v.Desc.Name),
		MAC:    v.Desc.HWAddr,
		Up:     v.Desc.Config&portDown == 0 && v.Desc.State&linkDown == 0,
	}
	logger.Debugf("PORT_STATUS (DPID=%v, Reason=%v): %v", r.device.ID(), v.Reason, spew.Sdump(port))

	switch v.Reason {
	case portAdded, portModified:
		r.device.updatePort(port)
	case portDeleted:
		r.device.removePort(port.Number)
	default:
		logger.Warningf("unknown port status reason: %v", v.Reason)
	}

	return nil
}

// portName trims the trailing NULL characters.
func portName(v []byte) string {
	for i, c := range v {
		if c == 0 {
			return string(v[:i])
		}
	}

	return string(v)
}

func inPort(v *openflow13.PacketIn) (port uint32, ok bool) {
	for _, f := range v.Match.Fields {
		if f.Field != openflow13.OXM_FIELD_IN_PORT {
			continue
		}
		p, ok := f.Value.(*openflow13.InPortField)
		if !ok {
			return 0, false
		}
		return p.InPort, true
	}

	return 0, false
}

// newPacket converts PACKET_IN into the learning event. The addresses are left
// empty if the frame is undecodable so that the listener rejects it.
func newPacket(port uint32, bufferID uint32, frame []byte) l2switch.Packet {
	p := l2switch.Packet{
		InPort:   port,
		BufferID: bufferID,
		Payload:  frame,
	}

	eth, err := protocol.Decode(frame)
	if err != nil {
		logger.Debugf("failed to decode the ethernet frame: %v", err)
		return p
	}
	if eth.IsBroadcast() {
		logger.Debugf("broadcast frame on port %v: %v", port, eth)
	} else {
		logger.Debugf("decoded frame on port %v: %v", port, eth)
	}
	p.SrcMAC = eth.SrcMAC
	p.DstMAC = eth.DstMAC
	p.EtherType = eth.EtherType
	p.NetworkProto = eth.NetworkProto

	return p
}

func (r *session) OnPacketIn(w transceiver.Writer, v *openflow13.PacketIn, frame []byte) error {
	if !r.device.isValid() {
		logger.Warning("ignoring PACKET_IN from the unidentified device")
		return nil
	}
	port, ok := inPort(v)
	if !ok {
		logger.Errorf("PACKET_IN without the ingress port (DPID=%v), so ignore it..", r.device.ID())
		return nil
	}
	logger.Debugf("PACKET_IN is received (DPID=%v, InPort=%v, BufferID=%v, Reason=%v, TableID=%v)", r.device.ID(), port, v.BufferId, v.Reason, v.TableId)

	// Only the transport errors close the session.
	if err := r.listener.OnPacketIn(r.device, newPacket(port, v.BufferId, frame)); err != nil {
		if errors.Cause(err) == l2switch.ErrMalformedPacket {
			logger.Warningf("ignoring PACKET_IN: %v", err)
		} else {
			logger.Errorf("failed to handle PACKET_IN: %v", err)
		}
	}

	return nil
}

func (r *session) Run(ctx context.Context) {
	sessionCtx, canceller := context.WithCancel(ctx)
	defer canceller()
	// This canceller will be used to disconnect this session when it is necessary.
	r.canceller = canceller

	if err := r.transceiver.Run(sessionCtx); err != nil {
		logger.Errorf("openflow transceiver is unexpectedly closed: %v", err)
	}
	logger.Infof("disconnected device (DPID=%v)", r.device.ID())

	r.transceiver.Close()
	r.device.Close()
	// A rejected duplicate session never owned the device.
	if !r.device.isValid() {
		return
	}
	r.registry.removeDevice(r.device, func() {
		r.cancellers.remove(r.device)
		if err := r.listener.OnDeviceDown(r.device); err != nil {
			logger.Errorf("OnDeviceDown: %v", err)
		}
	})
}
