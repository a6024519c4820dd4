// Package control implements the client side of the slinit control socket
// protocol, exposing slinit services as service.Handle values.
// The binary protocol is inspired by dinit's control protocol.
package control

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sunlightlinux/slaunch/pkg/service"
)

// Protocol version for slinit control protocol.
const ProtocolVersion uint16 = 1

// Command codes (client → server).
const (
	CmdQueryVersion  uint8 = 0
	CmdFindService   uint8 = 1
	CmdLoadService   uint8 = 2
	CmdStartService  uint8 = 3
	CmdStopService   uint8 = 4
	CmdServiceStatus uint8 = 18
	CmdCloseHandle   uint8 = 23
)

// Reply codes (server → client).
const (
	RplyACK           uint8 = 50
	RplyNAK           uint8 = 51
	RplyBadReq        uint8 = 52
	RplyCPVersion     uint8 = 58
	RplyServiceRecord uint8 = 59
	RplyNoService     uint8 = 60
	RplyAlreadySS     uint8 = 61
	RplyShuttingDown  uint8 = 69
	RplyServiceStatus uint8 = 70
)

// Info codes (server → client, unsolicited).
const (
	InfoServiceEvent uint8 = 100
)

// Status flags byte bits.
const (
	StatusFlagHasPID       uint8 = 1 << 0
	StatusFlagMarkedActive uint8 = 1 << 1
	StatusFlagWaitingDeps  uint8 = 1 << 2
)

// Packet header: 1-byte command/reply + 2-byte payload length (little-endian).
// Maximum payload size.
const MaxPayloadSize = 4096

// WritePacket writes a packet: [type(1)][payloadLen(2)][payload(N)].
func WritePacket(w io.Writer, pktType uint8, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload too large: %d > %d", len(payload), MaxPayloadSize)
	}
	buf := make([]byte, 3+len(payload))
	buf[0] = pktType
	binary.LittleEndian.PutUint16(buf[1:], uint16(len(payload)))
	copy(buf[3:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadPacket reads a packet: [type(1)][payloadLen(2)][payload(N)].
func ReadPacket(r io.Reader) (pktType uint8, payload []byte, err error) {
	var hdr [3]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	pktType = hdr[0]
	pLen := binary.LittleEndian.Uint16(hdr[1:])
	if pLen > MaxPayloadSize {
		return 0, nil, fmt.Errorf("payload too large: %d", pLen)
	}
	if pLen > 0 {
		payload = make([]byte, pLen)
		if _, err = io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return pktType, payload, nil
}

// EncodeServiceName encodes a service name as [len(2)][name(N)].
func EncodeServiceName(name string) []byte {
	b := make([]byte, 2+len(name))
	binary.LittleEndian.PutUint16(b, uint16(len(name)))
	copy(b[2:], name)
	return b
}

// DecodeServiceName decodes a service name from [len(2)][name(N)].
// Returns the name and number of bytes consumed.
func DecodeServiceName(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, fmt.Errorf("data too short for service name length")
	}
	nameLen := int(binary.LittleEndian.Uint16(data))
	if len(data) < 2+nameLen {
		return "", 0, fmt.Errorf("data too short for service name: need %d, have %d", 2+nameLen, len(data))
	}
	return string(data[2 : 2+nameLen]), 2 + nameLen, nil
}

// EncodeHandle encodes a uint32 handle.
func EncodeHandle(h uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, h)
	return b
}

// DecodeHandle decodes a uint32 handle from data.
func DecodeHandle(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("data too short for handle: need 4, have %d", len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

// ServiceRecord is the reply to a find/load request.
type ServiceRecord struct {
	State       service.State
	Handle      uint32
	TargetState service.State
}

// EncodeServiceRecord encodes a record: state(1) + handle(4) + target(1).
func EncodeServiceRecord(r ServiceRecord) []byte {
	buf := make([]byte, 6)
	buf[0] = uint8(r.State)
	binary.LittleEndian.PutUint32(buf[1:], r.Handle)
	buf[5] = uint8(r.TargetState)
	return buf
}

// DecodeServiceRecord decodes a find/load reply payload.
func DecodeServiceRecord(data []byte) (ServiceRecord, error) {
	if len(data) < 6 {
		return ServiceRecord{}, fmt.Errorf("data too short for service record: need 6, have %d", len(data))
	}
	return ServiceRecord{
		State:       decodeState(data[0]),
		Handle:      binary.LittleEndian.Uint32(data[1:]),
		TargetState: decodeState(data[5]),
	}, nil
}

// ServiceStatusInfo holds the status information for a service.
type ServiceStatusInfo struct {
	State       service.State
	TargetState service.State
	SvcType     uint8
	Flags       uint8
	PID         int32
	ExitStatus  int32
}

// EncodeServiceStatus encodes service status into bytes.
// Format: state(1) + target(1) + type(1) + flags(1) + pid(4) + exitStatus(4) = 12 bytes.
func EncodeServiceStatus(info ServiceStatusInfo) []byte {
	buf := make([]byte, 12)
	buf[0] = uint8(info.State)
	buf[1] = uint8(info.TargetState)
	buf[2] = info.SvcType

	flags := info.Flags
	if info.PID > 0 {
		flags |= StatusFlagHasPID
	}
	buf[3] = flags
	binary.LittleEndian.PutUint32(buf[4:], uint32(info.PID))
	binary.LittleEndian.PutUint32(buf[8:], uint32(info.ExitStatus))
	return buf
}

// DecodeServiceStatus decodes service status from bytes.
func DecodeServiceStatus(data []byte) (ServiceStatusInfo, error) {
	if len(data) < 12 {
		return ServiceStatusInfo{}, fmt.Errorf("data too short for status: need 12, have %d", len(data))
	}
	return ServiceStatusInfo{
		State:       decodeState(data[0]),
		TargetState: decodeState(data[1]),
		SvcType:     data[2],
		Flags:       data[3],
		PID:         int32(binary.LittleEndian.Uint32(data[4:])),
		ExitStatus:  int32(binary.LittleEndian.Uint32(data[8:])),
	}, nil
}

// decodeState maps a wire state byte; values slinit does not define
// become StateUnknown.
func decodeState(b uint8) service.State {
	s := service.State(b)
	if s > service.StateStopping {
		return service.StateUnknown
	}
	return s
}
