// Package sensors runs the blocking read loops for the three hardware
// feeds the regulator and telemetry publishers depend on: the IMU, the
// pressure sensor, and the ESCs' telemetry stream. Each loop owns a
// dedicated goroutine and writes its results into the shared vehicle
// state; none of them hold the vehicle lock across a blocking read.
package sensors

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/arobi/trident/internal/serial"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

// readByteTimeout bounds each single-byte read so the loop can still
// observe ctx cancellation instead of blocking forever on a quiet link.
const readByteTimeout = 200 * time.Millisecond

const (
	escStartByte  = 0xA5
	escPacketSize = 8 // start + motor id + type + int32 value + checksum
	escMaxBuffer  = 16

	escTypeERPM        = 0
	escTypeVoltage     = 1
	escTypeTemperature = 2
	escTypeCurrent     = 3
	escTypeStress      = 4
)

// EscReader decodes the inbound ESC telemetry stream and folds each
// reading into the vehicle's per-motor ESC state.
type EscReader struct {
	log       *logrus.Logger
	transport *serial.Transport
}

// NewEscReader wires an EscReader to its serial transport.
func NewEscReader(log *logrus.Logger, t *serial.Transport) *EscReader {
	return &EscReader{log: log, transport: t}
}

// Run reads telemetry bytes until ctx is canceled, resyncing on any byte
// that does not begin a valid packet rather than dropping the whole
// buffer, so a single corrupted byte costs at most one packet.
func (r *EscReader) Run(ctx context.Context, v *state.Vehicle) {
	buf := make([]byte, 0, escMaxBuffer)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := r.transport.ReadByte(readByteTimeout)
		if err != nil {
			continue
		}
		buf = append(buf, b)

		for len(buf) >= escPacketSize {
			idx := indexOf(buf, escStartByte)
			if idx == -1 {
				if len(buf) > escMaxBuffer {
					buf = buf[:0]
				}
				break
			}
			if idx > 0 {
				buf = buf[idx:]
			}
			if len(buf) < escPacketSize {
				break
			}
			packet := buf[:escPacketSize]
			if validPacket(packet) {
				applyPacket(v, packet)
				buf = buf[escPacketSize:]
			} else {
				buf = buf[1:]
			}
		}
	}
}

func indexOf(buf []byte, b byte) int {
	for i, c := range buf {
		if c == b {
			return i
		}
	}
	return -1
}

func validPacket(p []byte) bool {
	if len(p) != escPacketSize || p[0] != escStartByte {
		return false
	}
	var chk byte
	for _, b := range p[:escPacketSize-1] {
		chk ^= b
	}
	return chk == p[escPacketSize-1]
}

func applyPacket(v *state.Vehicle, p []byte) {
	motorID := int(p[1])
	packetType := p[2]
	value := float64(int32(binary.LittleEndian.Uint32(p[3:7])))

	if motorID < 0 || motorID >= 8 {
		return
	}

	v.WithLock(func(vv *state.Vehicle) {
		switch packetType {
		case escTypeERPM:
			vv.Esc.ERPM[motorID] = value
		case escTypeVoltage:
			vv.Esc.Voltage[motorID] = value
		case escTypeTemperature:
			vv.Esc.Temperature[motorID] = value
		case escTypeCurrent:
			vv.Esc.Current[motorID] = value
		case escTypeStress:
			vv.Esc.Stress[motorID] = value
		}
	})
}
