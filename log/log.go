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

package log

import (
	"fmt"
	slog "log/syslog"
	"os"
	"runtime"
	"strings"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

const (
	TargetSyslog = "syslog"
	TargetStderr = "stderr"

	format = `%{level}: %{shortpkg}.%{shortfunc}: %{message}`
)

// Syslog is a go-logging backend that writes the records into the local syslog daemon.
type Syslog struct {
	writer *slog.Writer
}

func NewSyslog(prefix string) (*Syslog, error) {
	w, err := slog.New(slog.LOG_CRIT|slog.LOG_DAEMON, prefix)
	if err != nil {
		return nil, err
	}

	return &Syslog{writer: w}, nil
}

func (r *Syslog) Log(level logging.Level, calldepth int, record *logging.Record) error {
	line := fmt.Sprintf("%v (TID=%v)", record.Formatted(calldepth+1), getGoRoutineID())
	switch level {
	case logging.CRITICAL:
		return r.writer.Crit(line)
	case logging.ERROR:
		return r.writer.Err(line)
	case logging.WARNING:
		return r.writer.Warning(line)
	case logging.NOTICE:
		return r.writer.Notice(line)
	case logging.INFO:
		return r.writer.Info(line)
	case logging.DEBUG:
		return r.writer.Debug(line)
	default:
		panic("unexpected log level")
	}
}

func getGoRoutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]
}

// NewBackend returns a leveled backend that writes the formatted records into the target.
func NewBackend(target, prefix string, level logging.Level) (logging.LeveledBackend, error) {
	var backend logging.Backend
	switch strings.ToLower(target) {
	case TargetSyslog, "":
		v, err := NewSyslog(prefix)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open syslog")
		}
		backend = v
	case TargetStderr:
		backend = logging.NewLogBackend(os.Stderr, prefix+" ", 0)
	default:
		return nil, fmt.Errorf("unknown log target: %v", target)
	}

	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, logging.MustStringFormatter(format)))
	// Set log level for all modules
	leveled.SetLevel(level, "")

	return leveled, nil
}

// ParseLevel returns def if level is not a valid log level name.
func ParseLevel(level string, def logging.Level) (logging.Level, bool) {
	v, err := logging.LogLevel(strings.ToUpper(level))
	if err != nil {
		return def, false
	}

	return v, true
}
