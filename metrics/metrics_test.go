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

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecord(t *testing.T) {
	dpid := uint64(0xCAFE)
	defer Reset(dpid)

	RecordPacketIn(dpid)
	RecordPacketIn(dpid)
	RecordFlood(dpid)
	RecordFlowInstall(dpid)
	RecordFlowEvict(dpid)
	RecordMalformedPacket(dpid)

	src := []struct {
		name     string
		counter  *prometheus.CounterVec
		expected float64
	}{
		{"packet_in", packetInCounter, 2},
		{"flood", floodCounter, 1},
		{"flow_install", flowInstallCounter, 1},
		{"flow_evict", flowEvictCounter, 1},
		{"malformed_packet", malformedPacketCounter, 1},
	}
	for _, v := range src {
		if got := testutil.ToFloat64(v.counter.WithLabelValues(label(dpid))); got != v.expected {
			t.Fatalf("unexpected %v counter: expected=%v, got=%v", v.name, v.expected, got)
		}
	}
}

func TestRegister(t *testing.T) {
	dpid := uint64(1)
	defer Reset(dpid)

	reg := prometheus.NewRegistry()
	Register(reg)
	// Second call should be ignored instead of panicking on the duplicated registration.
	Register(reg)

	RecordFlood(dpid)
	expected := `
# HELP lswitch_flood_total Count of packets flooded because their destination was unknown.
# TYPE lswitch_flood_total counter
lswitch_flood_total{dpid="1"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "lswitch_flood_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}
