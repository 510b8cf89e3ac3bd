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

package protocol

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

var (
	Broadcast = net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

// Frame is the summary of an ethernet frame that a learning switch cares about.
type Frame struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
	// EtherType of the payload. It is the inner type for a VLAN tagged frame.
	EtherType uint16
	VLANID    uint16
	// NetworkProto is the IP protocol number, or zero for a non-IP payload.
	NetworkProto uint8
}

func (r *Frame) IsBroadcast() bool {
	return r.DstMAC.String() == Broadcast.String()
}

func (r *Frame) String() string {
	return fmt.Sprintf("SrcMAC=%v, DstMAC=%v, EtherType=0x%04x, VLANID=%v, NetworkProto=%v", r.SrcMAC, r.DstMAC, r.EtherType, r.VLANID, r.NetworkProto)
}

// Decode parses the ethernet header of the frame and the upper layer headers
// if possible. It returns an error only if the ethernet header is broken.
func Decode(frame []byte) (*Frame, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true})
	l := packet.Layer(layers.LayerTypeEthernet)
	if l == nil {
		if e := packet.ErrorLayer(); e != nil {
			return nil, errors.Wrap(e.Error(), "invalid ethernet frame")
		}
		return nil, errors.Errorf("invalid ethernet frame: length=%v", len(frame))
	}
	eth := l.(*layers.Ethernet)

	v := &Frame{
		SrcMAC:    eth.SrcMAC,
		DstMAC:    eth.DstMAC,
		EtherType: uint16(eth.EthernetType),
	}
	if l := packet.Layer(layers.LayerTypeDot1Q); l != nil {
		tag := l.(*layers.Dot1Q)
		v.VLANID = tag.VLANIdentifier
		v.EtherType = uint16(tag.Type)
	}
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		v.NetworkProto = uint8(l.(*layers.IPv4).Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		v.NetworkProto = uint8(l.(*layers.IPv6).NextHeader)
	}

	return v, nil
}
