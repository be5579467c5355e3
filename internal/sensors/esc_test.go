package sensors

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

func buildPacket(motorID int, packetType byte, value int32) []byte {
	p := make([]byte, escPacketSize)
	p[0] = escStartByte
	p[1] = byte(motorID)
	p[2] = packetType
	binary.LittleEndian.PutUint32(p[3:7], uint32(value))
	var chk byte
	for _, b := range p[:escPacketSize-1] {
		chk ^= b
	}
	p[escPacketSize-1] = chk
	return p
}

func TestValidPacket_AcceptsCorrectChecksum(t *testing.T) {
	p := buildPacket(2, escTypeERPM, 1500)
	if !validPacket(p) {
		t.Error("validPacket rejected a correctly checksummed packet")
	}
}

func TestValidPacket_RejectsCorruptedByte(t *testing.T) {
	p := buildPacket(2, escTypeERPM, 1500)
	p[4] ^= 0xFF
	if validPacket(p) {
		t.Error("validPacket accepted a packet with a flipped byte")
	}
}

func TestValidPacket_RejectsWrongStartByte(t *testing.T) {
	p := buildPacket(0, escTypeVoltage, 14000)
	p[0] = 0x00
	if validPacket(p) {
		t.Error("validPacket accepted a packet missing the start byte")
	}
}

func TestIndexOf_FindsFirstOccurrence(t *testing.T) {
	buf := []byte{0x01, 0x02, escStartByte, 0x03, escStartByte}
	if idx := indexOf(buf, escStartByte); idx != 2 {
		t.Errorf("indexOf = %d, want 2", idx)
	}
}

func TestIndexOf_ReturnsMinusOneWhenAbsent(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03}
	if idx := indexOf(buf, escStartByte); idx != -1 {
		t.Errorf("indexOf = %d, want -1", idx)
	}
}

func testVehicle(t *testing.T) *state.Vehicle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trident.config.json")
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	mgr, err := config.NewManager(path, log)
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	return state.New(mgr)
}

func TestApplyPacket_UpdatesCorrectMotorAndField(t *testing.T) {
	v := testVehicle(t)
	p := buildPacket(3, escTypeVoltage, 15800)
	applyPacket(v, p)

	v.WithRLock(func(vv *state.Vehicle) {
		if vv.Esc.Voltage[3] != 15800 {
			t.Errorf("Voltage[3] = %v, want 15800", vv.Esc.Voltage[3])
		}
		if vv.Esc.Voltage[0] != 0 {
			t.Errorf("Voltage[0] = %v, want untouched 0", vv.Esc.Voltage[0])
		}
	})
}

func TestApplyPacket_IgnoresOutOfRangeMotorID(t *testing.T) {
	v := testVehicle(t)
	p := buildPacket(9, escTypeERPM, 1000)
	applyPacket(v, p) // must not panic on an out-of-bounds motor id

	v.WithRLock(func(vv *state.Vehicle) {
		for i, e := range vv.Esc.ERPM {
			if e != 0 {
				t.Errorf("ERPM[%d] = %v, want 0 (out-of-range motor id should be dropped)", i, e)
			}
		}
	})
}
