// SPDX-License-Identifier: MIT
package report

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"elephantlog/internal/dsp"
	"elephantlog/internal/knn"
	applog "elephantlog/internal/log"
)

// Packet types on the UDP wire.
const (
	packetFeatures = uint8(1)
	packetResult   = uint8(2)
	packetStatus   = uint8(3)
)

/*
UDP packet structure (BigEndian):

	+-------------------+----------------+--------------+--------------------------+
	| Field             | Data Type      | Size (Bytes) | Description              |
	|-------------------|----------------|--------------|--------------------------|
	| Sequence Number   | uint32         | 4            | Monotonically increasing |
	| Timestamp         | int64          | 8            | Nanoseconds since epoch  |
	| Packet Type       | uint8          | 1            | features/result/status   |
	| Body              | (per type)     | variable     | See builders below       |
	+-------------------+----------------+--------------+--------------------------+

Features body: uint16 dimension count, then that many float32 values.
Result body:  the features body, then float32 confidence, uint16 label
length and the label bytes.
Status body:  uint64 uptime nanoseconds, uint64 frames, uint64
classifications, uint64 overruns, uint64 dropped samples, uint32 exemplars.
*/

// UDPReporter packs pipeline output into binary packets and sends them to a
// fixed target address. One datagram per event; loss is acceptable, ordering
// is recovered from the sequence number.
type UDPReporter struct {
	conn *net.UDPConn

	mu     sync.Mutex // serializes packet building and the socket write
	seq    uint32
	packet bytes.Buffer
	closed bool
}

// NewUDPReporter resolves and dials the target ("host:port").
func NewUDPReporter(targetAddress string) (*UDPReporter, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("report: resolving UDP target '%s': %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("report: dialing UDP target '%s': %w", targetAddress, err)
	}
	applog.Infof("report: UDP reporter established to %s", conn.RemoteAddr())
	return &UDPReporter{conn: conn}, nil
}

func (r *UDPReporter) Features(fv dsp.FeatureVector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginPacket(packetFeatures)
	r.writeFeatures(fv)
	return r.send()
}

func (r *UDPReporter) Result(res knn.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginPacket(packetResult)
	r.writeFeatures(res.Features)
	binary.Write(&r.packet, binary.BigEndian, float32(res.Confidence))
	binary.Write(&r.packet, binary.BigEndian, uint16(len(res.Label)))
	r.packet.WriteString(res.Label)
	return r.send()
}

func (r *UDPReporter) Status(st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginPacket(packetStatus)
	binary.Write(&r.packet, binary.BigEndian, uint64(st.Uptime))
	binary.Write(&r.packet, binary.BigEndian, st.Frames)
	binary.Write(&r.packet, binary.BigEndian, st.Classifications)
	binary.Write(&r.packet, binary.BigEndian, st.Overruns)
	binary.Write(&r.packet, binary.BigEndian, st.DroppedSamples)
	binary.Write(&r.packet, binary.BigEndian, uint32(st.Exemplars))
	return r.send()
}

// Close shuts the socket. Subsequent sends fail fast.
func (r *UDPReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}

// beginPacket resets the reusable buffer and writes the common header.
func (r *UDPReporter) beginPacket(packetType uint8) {
	r.seq++
	r.packet.Reset()
	binary.Write(&r.packet, binary.BigEndian, r.seq)
	binary.Write(&r.packet, binary.BigEndian, time.Now().UnixNano())
	r.packet.WriteByte(packetType)
}

func (r *UDPReporter) writeFeatures(fv dsp.FeatureVector) {
	binary.Write(&r.packet, binary.BigEndian, uint16(len(fv)))
	for _, v := range fv {
		binary.Write(&r.packet, binary.BigEndian, float32(v))
	}
}

func (r *UDPReporter) send() error {
	if r.closed {
		return fmt.Errorf("report: UDP reporter is closed")
	}
	if _, err := r.conn.Write(r.packet.Bytes()); err != nil {
		applog.Errorf("report: UDP send failed: %v", err)
		return fmt.Errorf("report: sending UDP packet: %w", err)
	}
	applog.Debugf("report: sent UDP packet %d (%d bytes)", r.seq, r.packet.Len())
	return nil
}

var _ Reporter = (*UDPReporter)(nil)
