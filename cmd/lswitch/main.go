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

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/superkkt/lswitch/api"
	"github.com/superkkt/lswitch/api/core"
	"github.com/superkkt/lswitch/log"
	"github.com/superkkt/lswitch/metrics"
	"github.com/superkkt/lswitch/network"
	"github.com/superkkt/lswitch/northbound/app/l2switch"

	"github.com/fsnotify/fsnotify"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	programName     = "lswitch"
	programVersion  = "0.1.0"
	defaultLogLevel = logging.INFO
)

var (
	logger            = logging.MustGetLogger("main")
	loggerLeveled     logging.LeveledBackend
	showVersion       = pflag.Bool("version", false, "Show program version and exit")
	defaultConfigFile = pflag.String("config", fmt.Sprintf("/usr/local/etc/%v.yaml", programName), "absolute path of the configuration file")
)

func init() {
	pflag.Int("port", 6633, "OpenFlow listen port that overrides default.port in the configuration file")
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	pflag.Parse()
	if *showVersion {
		fmt.Printf("Version: %v\n", programVersion)
		os.Exit(0)
	}

	initConfig()
	if err := initLog(getLogLevel(viper.GetString("default.log_level"))); err != nil {
		logger.Fatalf("failed to init log: %v", err)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	engine, err := l2switch.New(engineConfig())
	if err != nil {
		logger.Fatalf("failed to create the L2 switch: %v", err)
	}
	logger.Infof("%v is started: %v", programName, engine)

	ctx, cancel := context.WithCancel(context.Background())
	controller := network.NewController(engine)
	initAPIServer(controller, engine)
	initSignalHandler(controller, engine, cancel)

	listen(ctx, viper.GetInt("default.port"), controller)
}

func setConfigDefaults() {
	viper.SetDefault("default.port", 6633)
	viper.SetDefault("default.log_level", "info")
	viper.SetDefault("default.log_target", log.TargetSyslog)
	viper.SetDefault("l2switch.window_capacity", l2switch.DefaultWindowCapacity)
	viper.SetDefault("l2switch.idle_timeout", l2switch.DefaultIdleTimeout)
	viper.SetDefault("l2switch.mac_table_size", l2switch.DefaultMACTableSize)
	viper.SetDefault("rest.port", 7070)
	viper.SetDefault("rest.tls", false)
}

func initConfig() {
	setConfigDefaults()
	if err := viper.BindPFlag("default.port", pflag.Lookup("port")); err != nil {
		logger.Fatalf("failed to bind the port flag: %v", err)
	}
	viper.SetConfigFile(*defaultConfigFile)
	// Read the config file.
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatalf("failed to read the config file: %v", err)
	}
	// Watching and re-reading config file whenever it changes.
	viper.OnConfigChange(func(e fsnotify.Event) {
		// Ignore the WRITE operation to avoid reading empty config.
		if e.Op != fsnotify.Write {
			return
		}

		if loggerLeveled != nil {
			// Set log level for all modules
			loggerLeveled.SetLevel(getLogLevel(viper.GetString("default.log_level")), "")
		}
	})
	viper.WatchConfig()
	if err := validateConfig(); err != nil {
		logger.Fatalf("failed to validate the configuration: %v", err)
	}
}

func validateConfig() error {
	if port := viper.GetInt("default.port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid default.port")
	}
	if len(viper.GetString("default.log_level")) == 0 {
		return errors.New("invalid default.log_level")
	}
	if v := viper.GetInt("l2switch.window_capacity"); v <= 0 {
		return errors.New("invalid l2switch.window_capacity")
	}
	if v := viper.GetInt("l2switch.idle_timeout"); v <= 0 || v > 0xFFFF {
		return errors.New("invalid l2switch.idle_timeout")
	}
	if v := viper.GetInt("l2switch.mac_table_size"); v <= 0 {
		return errors.New("invalid l2switch.mac_table_size")
	}
	if port := viper.GetInt("rest.port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid rest.port")
	}
	if viper.GetBool("rest.tls") {
		if len(viper.GetString("rest.cert_file")) == 0 {
			return errors.New("empty rest.cert_file")
		}
		if len(viper.GetString("rest.key_file")) == 0 {
			return errors.New("empty rest.key_file")
		}
	}

	return nil
}

func engineConfig() l2switch.Config {
	return l2switch.Config{
		WindowCapacity: viper.GetInt("l2switch.window_capacity"),
		IdleTimeout:    uint16(viper.GetInt("l2switch.idle_timeout")),
		MACTableSize:   viper.GetInt("l2switch.mac_table_size"),
	}
}

func initAPIServer(controller *network.Controller, engine *l2switch.L2Switch) {
	go func() {
		srv := &core.API{
			Server:     api.Server{Port: uint16(viper.GetInt("rest.port"))},
			Controller: controller,
			Engine:     engine,
		}
		if viper.GetBool("rest.tls") == true {
			srv.TLS.Cert = viper.GetString("rest.cert_file")
			srv.TLS.Key = viper.GetString("rest.key_file")
		}

		if err := srv.Serve(); err != nil {
			logger.Fatalf("failed to run the API server: %v", err)
		}
	}()
}

func initSignalHandler(controller *network.Controller, engine *l2switch.L2Switch, cancel context.CancelFunc) {
	go func() {
		c := make(chan os.Signal, 5)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

		// Infinte loop.
		for {
			s := <-c
			if s == syscall.SIGTERM || s == syscall.SIGINT {
				// Graceful shutdown
				logger.Warning("Shutting down...")
				cancel()
				// Timeout for cancelation
				time.Sleep(5 * time.Second)
				os.Exit(0)
			} else if s == syscall.SIGHUP {
				fmt.Println("* Controller status:")
				fmt.Println(controller.String())
				fmt.Printf("\n* L2 switch status:\n")
				fmt.Println(engine.String())
			}
		}
	}()
}

func initLog(level logging.Level) error {
	backend, err := log.NewBackend(viper.GetString("default.log_target"), programName, level)
	if err != nil {
		return err
	}
	loggerLeveled = backend
	logging.SetBackend(loggerLeveled)

	return nil
}

func getLogLevel(level string) logging.Level {
	v, ok := log.ParseLevel(level, defaultLogLevel)
	if !ok {
		logger.Infof("invalid log level=%v, defaulting to %v..", level, defaultLogLevel)
	}

	return v
}

func listen(ctx context.Context, port int, controller *network.Controller) {
	type KeepAliver interface {
		SetKeepAlive(keepalive bool) error
		SetKeepAlivePeriod(d time.Duration) error
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%v", port))
	if err != nil {
		logger.Errorf("failed to listen on %v port: %v", port, err)
		return
	}
	defer listener.Close()

	// Connection dispatcher.
	f := func(c chan<- net.Conn) {
		for {
			conn, err := listener.Accept()
			if err != nil {
				logger.Errorf("failed to accept a new connection: %v", err)
				continue
			}
			logger.Infof("new device is connected from %v", conn.RemoteAddr())
			// Pass the new connection into the backlog queue.
			c <- conn
		}
	}
	backlog := make(chan net.Conn, 32)
	go f(backlog)

	// Infinite loop
	for {
		select {
		case <-ctx.Done():
			logger.Debug("terminating the main listener loop...")
			return
		case conn := <-backlog:
			if v, ok := conn.(KeepAliver); ok {
				if err := v.SetKeepAlive(true); err == nil {
					// Makes a broken connection will be disconnected within 45 seconds.
					v.SetKeepAlivePeriod(time.Duration(5) * time.Second)
				} else {
					logger.Errorf("failed to enable socket keepalive: %v", err)
				}
			}
			controller.AddConnection(ctx, conn)
		}
	}
}
