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
	"context"
	"encoding"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("transceiver")
)

var (
	ErrInvalidPacketLength = errors.New("invalid packet length")
	ErrUnsupportedVersion  = errors.New("unsupported protocol version")
	ErrUnsupportedMessage  = errors.New("unsupported message type")
)

const (
	// OpenFlow 1.3 is the only version that we speak.
	Version uint8 = 0x04

	// Allowed idle time before we send an echo request to a switch.
	maxIdleTime = 10 * time.Second
	// Maximum number of unanswered echo requests before we give up the switch.
	maxPingCount = 3
	// I/O timeouts (These timeouts should be less than maxIdleTime).
	readTimeout  = 1 * time.Second
	writeTimeout = readTimeout * 2
	// Allowed time to receive the first HELLO.
	negotiateTimeout = 30 * time.Second
)

// OpenFlow 1.3 message types.
const (
	typeHello         uint8 = 0
	typeError         uint8 = 1
	typeEchoRequest   uint8 = 2
	typeEchoReply     uint8 = 3
	typeFeaturesReply uint8 = 6
	typePacketIn      uint8 = 10
	typePortStatus    uint8 = 12
)

type Writer interface {
	Write(msg encoding.BinaryMarshaler) error
}

type Handler interface {
	// OnHello is called once the protocol version has been negotiated.
	OnHello(Writer) error
	OnError(Writer, *openflow13.ErrorMsg) error
	OnFeaturesReply(Writer, *openflow13.SwitchFeatures) error
	OnPortStatus(Writer, *openflow13.PortStatus) error
	// OnPacketIn receives the raw ethernet frame attached to the message in addition to the decoded message.
	OnPacketIn(w Writer, msg *openflow13.PacketIn, frame []byte) error
}

type Transceiver struct {
	stream      *Stream
	observer    Handler
	negotiated  bool
	pingCounter uint
	closed      bool
}

func NewTransceiver(stream *Stream, handler Handler) *Transceiver {
	if stream == nil {
		panic("stream is nil")
	}
	if handler == nil {
		panic("handler is nil")
	}

	return &Transceiver{
		stream:   stream,
		observer: handler,
	}
}

func isTimeout(err error) bool {
	type Timeout interface {
		Timeout() bool
	}

	if v, ok := errors.Cause(err).(Timeout); ok {
		return v.Timeout()
	}

	return false
}

// temporaryError is a dispatch error that does not need to close the session.
type temporaryError struct {
	error
}

func (r temporaryError) Temporary() bool {
	return true
}

func isTemporaryErr(err error) bool {
	e, ok := errors.Cause(err).(interface {
		Temporary() bool
	})
	return ok && e.Temporary()
}

// Run reads and dispatches messages from the switch until ctx is canceled or the connection is broken.
func (r *Transceiver) Run(ctx context.Context) error {
	defer logger.Info("transceiver is closed")
	r.stream.SetReadTimeout(readTimeout)
	r.stream.SetWriteTimeout(writeTimeout)

	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()
	reader := r.runReader(readerCtx)

	if err := r.negotiate(ctx, reader); err != nil {
		return errors.Wrap(err, "failed to negotiate the protocol version")
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("context done")
			return nil
		case packet, ok := <-reader:
			if !ok {
				logger.Info("the reader channel is closed")
				return nil
			}
			if err := r.dispatch(packet); err != nil {
				if !isTemporaryErr(err) {
					return err
				}
				// Ignore the temporary error. Just log the error and keep go on.
				logger.Errorf("failed to dispatch the packet: %v", err)
			}
		}
	}
}

func (r *Transceiver) negotiate(ctx context.Context, reader <-chan []byte) error {
	// We announce our version first, and then the switch should say HELLO.
	hello, err := common.NewHello(int(Version))
	if err != nil {
		return err
	}
	if err := r.Write(hello); err != nil {
		return errors.Wrap(err, "failed to send HELLO")
	}

	select {
	case <-ctx.Done():
		return errors.New("context done")
	case <-time.After(negotiateTimeout):
		return errors.New("inactive for too long")
	case packet, ok := <-reader:
		if !ok {
			return errors.New("the reader channel is closed")
		}
		// The first message should be HELLO.
		if packet[1] != typeHello {
			return errors.New("missing HELLO message")
		}
		// The negotiated version is the smaller one of both sides.
		if packet[0] < Version {
			return errors.Wrapf(ErrUnsupportedVersion, "version=%v", packet[0])
		}
		r.negotiated = true
		logger.Info("negotiated to openflow version 1.3")

		return r.observer.OnHello(r)
	}
}

func (r *Transceiver) runReader(ctx context.Context) <-chan []byte {
	c := make(chan []byte, 4096)
	go func() {
		// The channel c will be closed when this goroutine returns in order to notice the connection has been closed.
		defer close(c)
		defer logger.Info("transceiver reader is closed")

		lastActivated := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			packet, err := r.stream.ReadMessage()
			if err != nil {
				if !isTimeout(err) {
					logger.Errorf("failed to read the next packet: %v", err)
					return
				}
				// Timeout occurrs. Send a ping request if necessary.
				if time.Now().After(lastActivated.Add(maxIdleTime)) {
					if err := r.sendEchoRequest(); err != nil {
						logger.Errorf("failed to send an echo request: %v", err)
						return
					}
					lastActivated = time.Now()
				}
				continue
			}
			lastActivated = time.Now()

			ok, err := r.handleEcho(packet)
			if err != nil {
				logger.Errorf("failed to handle the echo request or response: %v", err)
				return
			}
			if ok {
				continue
			}

			select {
			case c <- packet:
			default:
				// Drop the packet if we cannot immediately carry it.
				logger.Error("transceiver buffer full: drop the incoming packet!")
			}
		}
	}()

	return c
}

func (r *Transceiver) Write(msg encoding.BinaryMarshaler) error {
	packet, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := r.stream.Write(packet); err != nil {
		return err
	}

	return nil
}

func (r *Transceiver) sendEchoRequest() error {
	if r.pingCounter >= maxPingCount {
		return errors.New("device does not respond to our echo request")
	}

	// The payload is the current timestamp to measure the latency.
	packet := make([]byte, headerLength+8)
	packet[0] = Version
	packet[1] = typeEchoRequest
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(packet)))
	binary.BigEndian.PutUint64(packet[headerLength:], uint64(time.Now().UnixNano()))
	if _, err := r.stream.Write(packet); err != nil {
		return errors.Wrap(err, "failed to send ECHO_REQUEST message")
	}
	r.pingCounter++

	return nil
}

func (r *Transceiver) handleEcho(packet []byte) (handled bool, err error) {
	switch packet[1] {
	case typeEchoRequest:
		// The reply carries the transaction ID and the data of the request.
		reply := make([]byte, len(packet))
		copy(reply, packet)
		reply[0] = Version
		reply[1] = typeEchoReply
		if _, err := r.stream.Write(reply); err != nil {
			return true, errors.Wrap(err, "failed to send ECHO_REPLY message")
		}
		return true, nil
	case typeEchoReply:
		r.pingCounter = 0
		if len(packet) == headerLength+8 {
			sent := int64(binary.BigEndian.Uint64(packet[headerLength:]))
			logger.Debugf("transceiver latency: %v", time.Duration(time.Now().UnixNano()-sent))
		}
		return true, nil
	default:
		return false, nil
	}
}

func (r *Transceiver) dispatch(packet []byte) error {
	if packet[0] != Version {
		return fmt.Errorf("mis-matched OpenFlow version: negotiated=%v, packet=%v", Version, packet[0])
	}

	switch packet[1] {
	case typeHello:
		// Already negotiated.
		return nil
	case typeError, typeFeaturesReply, typePortStatus, typePacketIn:
	default:
		// Unsupported message. Do nothing.
		return nil
	}

	msg, err := openflow13.Parse(packet)
	if err != nil {
		// A switch may send a message that the parser does not understand. Skip it.
		return temporaryError{errors.Wrapf(err, "failed to parse a message (type=%v)", packet[1])}
	}

	switch v := msg.(type) {
	case *openflow13.ErrorMsg:
		return r.observer.OnError(r, v)
	case *openflow13.SwitchFeatures:
		return r.observer.OnFeaturesReply(r, v)
	case *openflow13.PortStatus:
		return r.observer.OnPortStatus(r, v)
	case *openflow13.PacketIn:
		frame, err := packetInFrame(packet)
		if err != nil {
			return temporaryError{err}
		}
		return r.observer.OnPacketIn(r, v, frame)
	default:
		return temporaryError{errors.Wrapf(ErrUnsupportedMessage, "type=%T", msg)}
	}
}

// packetInFrame returns the ethernet frame attached to the PACKET_IN message.
func packetInFrame(packet []byte) ([]byte, error) {
	// ofp_header (8), buffer_id (4), total_len (2), reason (1), table_id (1), cookie (8).
	const matchOffset = 24
	if len(packet) < matchOffset+4 {
		return nil, ErrInvalidPacketLength
	}
	matchLen := int(binary.BigEndian.Uint16(packet[matchOffset+2 : matchOffset+4]))
	// ofp_match is padded to a multiple of 8, followed by two bytes of padding.
	offset := matchOffset + (matchLen+7)/8*8 + 2
	if offset > len(packet) {
		return nil, ErrInvalidPacketLength
	}

	frame := make([]byte, len(packet)-offset)
	copy(frame, packet[offset:])

	return frame, nil
}

func (r *Transceiver) Close() error {
	if r.closed {
		return nil
	}
	if err := r.stream.Close(); err != nil {
		return err
	}
	r.closed = true

	return nil
}
