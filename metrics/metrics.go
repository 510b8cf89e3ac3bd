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
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lswitch"

var (
	packetInCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_in_total",
			Help:      "Count of PACKET_IN events received from switch devices.",
		},
		[]string{"dpid"},
	)
	malformedPacketCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_packet_total",
			Help:      "Count of PACKET_IN events rejected because they could not be decoded.",
		},
		[]string{"dpid"},
	)
	floodCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_total",
			Help:      "Count of packets flooded because their destination was unknown.",
		},
		[]string{"dpid"},
	)
	flowInstallCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_install_total",
			Help:      "Count of learning flow rules installed on switch devices.",
		},
		[]string{"dpid"},
	)
	flowEvictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_evict_total",
			Help:      "Count of flow rules deleted because their ingress port exceeded the rule window.",
		},
		[]string{"dpid"},
	)
)

var registerMetrics sync.Once

// Register registers all metrics to the registerer. Only the first call takes effect.
func Register(r prometheus.Registerer) {
	registerMetrics.Do(func() {
		r.MustRegister(packetInCounter)
		r.MustRegister(malformedPacketCounter)
		r.MustRegister(floodCounter)
		r.MustRegister(flowInstallCounter)
		r.MustRegister(flowEvictCounter)
	})
}

func label(dpid uint64) string {
	return strconv.FormatUint(dpid, 10)
}

func RecordPacketIn(dpid uint64) {
	packetInCounter.WithLabelValues(label(dpid)).Inc()
}

func RecordMalformedPacket(dpid uint64) {
	malformedPacketCounter.WithLabelValues(label(dpid)).Inc()
}

func RecordFlood(dpid uint64) {
	floodCounter.WithLabelValues(label(dpid)).Inc()
}

func RecordFlowInstall(dpid uint64) {
	flowInstallCounter.WithLabelValues(label(dpid)).Inc()
}

func RecordFlowEvict(dpid uint64) {
	flowEvictCounter.WithLabelValues(label(dpid)).Inc()
}

// Reset clears all the counters of the switch device.
func Reset(dpid uint64) {
	l := label(dpid)
	packetInCounter.DeleteLabelValues(l)
	malformedPacketCounter.DeleteLabelValues(l)
	floodCounter.DeleteLabelValues(l)
	flowInstallCounter.DeleteLabelValues(l)
	flowEvictCounter.DeleteLabelValues(l)
}
