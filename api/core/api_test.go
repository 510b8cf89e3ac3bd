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

package core

import (
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/superkkt/lswitch/api"
	"github.com/superkkt/lswitch/metrics"
	"github.com/superkkt/lswitch/network"
	"github.com/superkkt/lswitch/northbound/app/l2switch"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

type dummySwitch struct {
	id uint64
}

func (r *dummySwitch) ID() uint64                         { return r.id }
func (r *dummySwitch) InstallRule(l2switch.FlowRule) error { return nil }
func (r *dummySwitch) DeleteRule(l2switch.Match) error     { return nil }
func (r *dummySwitch) PacketOut(l2switch.PacketOut) error  { return nil }

var (
	macA = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x0A}
	macB = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x0B}
)

func newTestHandler(t *testing.T, reg *prometheus.Registry) http.Handler {
	engine, err := l2switch.New(l2switch.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create the engine: %v", err)
	}

	// A at port 1 sends to B (flooding), and then B at port 2 replies (installing a rule).
	sw := &dummySwitch{id: 1}
	packets := []l2switch.Packet{
		{InPort: 1, SrcMAC: macA, DstMAC: macB, BufferID: 10},
		{InPort: 2, SrcMAC: macB, DstMAC: macA, BufferID: 11},
	}
	for _, p := range packets {
		if err := engine.OnPacketIn(sw, p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	v := &API{
		Server:     api.Server{Gatherer: reg},
		Controller: network.NewController(engine),
		Engine:     engine,
	}
	handler, err := v.Handler()
	if err != nil {
		t.Fatalf("failed to create the handler: %v", err)
	}

	return handler
}

type response struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func get(t *testing.T, handler http.Handler, url string) response {
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", url, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected HTTP status: %v", w.Code)
	}
	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("unexpected CORS header: %v", origin)
	}

	resp := response{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}

	return resp
}

func TestListHost(t *testing.T) {
	defer metrics.Reset(1)
	handler := newTestHandler(t, prometheus.NewRegistry())

	resp := get(t, handler, "/api/v1/switch/1/host")
	if resp.Status != api.StatusOkay {
		t.Fatalf("unexpected status: %v (%v)", resp.Status, resp.Message)
	}
	hosts := make([]host, 0)
	if err := json.Unmarshal(resp.Data, &hosts); err != nil {
		t.Fatalf("invalid data: %v", err)
	}
	// Least recently used first. The lookup of A made it the most recent one.
	expected := []host{{MAC: macB.String(), Port: 2}, {MAC: macA.String(), Port: 1}}
	if diff := cmp.Diff(expected, hosts); diff != "" {
		t.Fatalf("unexpected hosts (-want +got):\n%v", diff)
	}
}

func TestListRule(t *testing.T) {
	defer metrics.Reset(1)
	handler := newTestHandler(t, prometheus.NewRegistry())

	resp := get(t, handler, "/api/v1/switch/1/rule")
	if resp.Status != api.StatusOkay {
		t.Fatalf("unexpected status: %v (%v)", resp.Status, resp.Message)
	}
	rules := make([]portRules, 0)
	if err := json.Unmarshal(resp.Data, &rules); err != nil {
		t.Fatalf("invalid data: %v", err)
	}
	wildcards := "dl_src|dl_type|nw_proto"
	expected := []portRules{
		{Port: 1, Rules: []rule{{InPort: 1, DstMAC: macB.String(), Wildcards: wildcards}}},
		{Port: 2, Rules: []rule{{InPort: 2, DstMAC: macA.String(), Wildcards: wildcards}}},
	}
	if diff := cmp.Diff(expected, rules); diff != "" {
		t.Fatalf("unexpected rules (-want +got):\n%v", diff)
	}
}

func TestInvalidDPID(t *testing.T) {
	defer metrics.Reset(1)
	handler := newTestHandler(t, prometheus.NewRegistry())

	tests := []struct {
		url    string
		status int
	}{
		{"/api/v1/switch/abc/host", api.StatusInvalidParameter},
		{"/api/v1/switch/2/host", api.StatusNotFound},
		{"/api/v1/switch/2/rule", api.StatusNotFound},
	}
	for _, test := range tests {
		if resp := get(t, handler, test.url); resp.Status != test.status {
			t.Errorf("%v: expected status %v, got %v", test.url, test.status, resp.Status)
		}
	}
}

func TestListSwitch(t *testing.T) {
	defer metrics.Reset(1)
	handler := newTestHandler(t, prometheus.NewRegistry())

	// No device is connected to the controller.
	resp := get(t, handler, "/api/v1/switch")
	if resp.Status != api.StatusOkay {
		t.Fatalf("unexpected status: %v (%v)", resp.Status, resp.Message)
	}
	if diff := cmp.Diff("[]", string(resp.Data)); diff != "" {
		t.Fatalf("unexpected data (-want +got):\n%v", diff)
	}
}

func TestMetrics(t *testing.T) {
	defer metrics.Reset(1)
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	handler := newTestHandler(t, reg)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected HTTP status: %v", w.Code)
	}
	body, err := ioutil.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("failed to read the body: %v", err)
	}
	for _, v := range []string{`lswitch_flood_total{dpid="1"} 1`, `lswitch_flow_install_total{dpid="1"} 1`} {
		if !strings.Contains(string(body), v) {
			t.Errorf("missing metric: %v", v)
		}
	}
}
