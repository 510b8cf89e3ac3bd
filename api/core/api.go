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
	"net/http"
	"strconv"

	"github.com/superkkt/lswitch/api"
	"github.com/superkkt/lswitch/network"
	"github.com/superkkt/lswitch/northbound/app/l2switch"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/davecgh/go-spew/spew"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("core")
)

type Controller interface {
	Devices() []*network.Device
}

type Engine interface {
	Table() *l2switch.AddressTable
	Window() *l2switch.RuleWindow
}

type API struct {
	api.Server
	Controller Controller
	Engine     Engine
}

func (r *API) validate() error {
	if r.Controller == nil {
		return errors.New("nil controller")
	}
	if r.Engine == nil {
		return errors.New("nil engine")
	}

	return nil
}

func (r *API) routes() []*rest.Route {
	return []*rest.Route{
		rest.Get("/api/v1/switch", r.listSwitch),
		rest.Get("/api/v1/switch/:dpid/host", r.listHost),
		rest.Get("/api/v1/switch/:dpid/rule", r.listRule),
	}
}

func (r *API) Handler() (http.Handler, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	return r.Server.Handler(r.routes()...)
}

func (r *API) Serve() error {
	if err := r.validate(); err != nil {
		return err
	}

	return r.Server.Serve(r.routes()...)
}

type port struct {
	Number uint32 `json:"number"`
	Name   string `json:"name"`
	MAC    string `json:"mac"`
	Up     bool   `json:"up"`
}

type device struct {
	DPID       uint64 `json:"dpid"`
	NumBuffers uint32 `json:"num_buffers"`
	NumTables  uint8  `json:"num_tables"`
	NumHosts   int    `json:"num_hosts"`
	Ports      []port `json:"ports"`
}

func (r *API) listSwitch(w rest.ResponseWriter, req *rest.Request) {
	logger.Debugf("switch list request from %v", req.RemoteAddr)

	result := make([]device, 0)
	for _, d := range r.Controller.Devices() {
		f := d.Features()
		v := device{
			DPID:       d.ID(),
			NumBuffers: f.NumBuffers,
			NumTables:  f.NumTables,
			NumHosts:   len(r.Engine.Table().Hosts(d.ID())),
			Ports:      make([]port, 0),
		}
		for _, p := range d.Ports() {
			v.Ports = append(v.Ports, port{Number: p.Number, Name: p.Name, MAC: p.MAC.String(), Up: p.Up})
		}
		result = append(result, v)
	}

	w.WriteJson(api.Response{Status: api.StatusOkay, Data: result})
}

// parseDPID returns false if there is no address table for the switch.
func (r *API) parseDPID(w rest.ResponseWriter, req *rest.Request) (dpid uint64, ok bool) {
	dpid, err := strconv.ParseUint(req.PathParam("dpid"), 10, 64)
	if err != nil {
		w.WriteJson(api.Response{Status: api.StatusInvalidParameter, Message: "invalid DPID: " + req.PathParam("dpid")})
		return 0, false
	}
	for _, v := range r.Engine.Table().Switches() {
		if v == dpid {
			return dpid, true
		}
	}
	w.WriteJson(api.Response{Status: api.StatusNotFound, Message: "unknown DPID: " + req.PathParam("dpid")})

	return 0, false
}

type host struct {
	MAC  string `json:"mac"`
	Port uint32 `json:"port"`
}

func (r *API) listHost(w rest.ResponseWriter, req *rest.Request) {
	dpid, ok := r.parseDPID(w, req)
	if !ok {
		return
	}

	result := make([]host, 0)
	for _, v := range r.Engine.Table().Hosts(dpid) {
		result = append(result, host{MAC: v.MAC.String(), Port: v.Port})
	}
	logger.Debugf("host list request from %v: %v", req.RemoteAddr, spew.Sdump(result))

	w.WriteJson(api.Response{Status: api.StatusOkay, Data: result})
}

type rule struct {
	InPort    uint32 `json:"in_port"`
	DstMAC    string `json:"dst_mac"`
	Wildcards string `json:"wildcards"`
}

type portRules struct {
	Port  uint32 `json:"port"`
	Rules []rule `json:"rules"`
}

func (r *API) listRule(w rest.ResponseWriter, req *rest.Request) {
	dpid, ok := r.parseDPID(w, req)
	if !ok {
		return
	}

	window := r.Engine.Window()
	result := make([]portRules, 0)
	for _, p := range window.Ports(dpid) {
		v := portRules{Port: p, Rules: make([]rule, 0)}
		// Oldest first.
		for _, m := range window.Rules(dpid, p) {
			v.Rules = append(v.Rules, rule{
				InPort:    m.InPort,
				DstMAC:    l2switch.Uint64ToMAC(m.DstMAC).String(),
				Wildcards: m.Wildcards.String(),
			})
		}
		result = append(result, v)
	}
	logger.Debugf("rule list request from %v: %v", req.RemoteAddr, spew.Sdump(result))

	w.WriteJson(api.Response{Status: api.StatusOkay, Data: result})
}
