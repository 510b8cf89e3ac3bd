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

package transceiver

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"
	"time"
)

const (
	headerLength = 8
	// Minimum reader buffer size that can hold the largest OpenFlow message.
	minBufSize = 0xFFFF
)

// Stream is a buffered OpenFlow message channel on top of a socket.
type Stream struct {
	channel io.ReadWriteCloser

	reader struct {
		mutex   sync.Mutex
		rd      *bufio.Reader
		timeout time.Duration
	}

	writer struct {
		mutex   sync.Mutex
		timeout time.Duration
	}
}

type deadline interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

func NewStream(channel io.ReadWriteCloser, bufSize int) *Stream {
	if channel == nil {
		panic("nil channel")
	}

	if bufSize < minBufSize {
		bufSize = minBufSize
	}

	s := &Stream{channel: channel}
	s.reader.rd = bufio.NewReaderSize(channel, bufSize)

	return s
}

// SetReadTimeout sets the read timeout if the underlying socket supports deadlines. Zero means no timeout.
func (r *Stream) SetReadTimeout(t time.Duration) {
	r.reader.mutex.Lock()
	defer r.reader.mutex.Unlock()

	r.reader.timeout = t
}

func (r *Stream) SetWriteTimeout(t time.Duration) {
	r.writer.mutex.Lock()
	defer r.writer.mutex.Unlock()

	r.writer.timeout = t
}

// ReadMessage reads exactly one OpenFlow message, header included. A timeout
// on the header leaves the stream intact so that the caller can retry.
func (r *Stream) ReadMessage() ([]byte, error) {
	r.reader.mutex.Lock()
	defer r.reader.mutex.Unlock()

	setDeadline(r.channel, r.reader.timeout, true)
	// Peek does not consume the buffer, so a timeout here loses nothing.
	header, err := r.reader.rd.Peek(headerLength)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[2:4])
	if length < headerLength {
		return nil, ErrInvalidPacketLength
	}

	// Wait for the whole message before consuming it.
	if _, err := r.reader.rd.Peek(int(length)); err != nil {
		return nil, err
	}
	packet := make([]byte, length)
	if _, err := io.ReadFull(r.reader.rd, packet); err != nil {
		return nil, err
	}

	return packet, nil
}

func (r *Stream) Write(p []byte) (n int, err error) {
	r.writer.mutex.Lock()
	defer r.writer.mutex.Unlock()

	setDeadline(r.channel, r.writer.timeout, false)
	return r.channel.Write(p)
}

func setDeadline(channel io.ReadWriteCloser, timeout time.Duration, read bool) {
	d, ok := channel.(deadline)
	if !ok {
		return
	}

	t := time.Time{}
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if read {
		d.SetReadDeadline(t)
	} else {
		d.SetWriteDeadline(t)
	}
}

func (r *Stream) Close() error {
	return r.channel.Close()
}
