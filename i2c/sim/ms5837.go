package sim

import (
	"errors"
	"fmt"
	"sync"
)

// DatasheetPROM is the MS5837-30BA example calibration with its CRC nibble
// (2) in word 0.
var DatasheetPROM = [7]uint16{0x2000, 34982, 36352, 20328, 22354, 26646, 26146}

var ErrUnknownCommand = errors.New("sim: unknown command")

// MS5837 models the command set of an MS5837 pressure sensor.
type MS5837 struct {
	mx       sync.Mutex
	prom     [8]uint16
	d1, d2   uint32
	adc      uint32
	cmd      byte
	resets   int
	commands []byte
}

func NewMS5837(prom [7]uint16) *MS5837 {
	m := &MS5837{}
	copy(m.prom[:], prom[:])
	return m
}

// SetRaw sets the values returned by the next D1 (pressure) and D2
// (temperature) conversions.
func (m *MS5837) SetRaw(d1, d2 uint32) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.d1, m.d2 = d1, d2
}

// SetPROM overwrites calibration word i.
func (m *MS5837) SetPROM(i int, word uint16) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.prom[i] = word
}

// Commands returns every command byte received so far.
func (m *MS5837) Commands() []byte {
	m.mx.Lock()
	defer m.mx.Unlock()
	return append([]byte(nil), m.commands...)
}

func (m *MS5837) Resets() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.resets
}

func (m *MS5837) Write(w []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	cmd := w[0]
	m.commands = append(m.commands, cmd)
	switch {
	case cmd == 0x1E:
		m.resets++
		m.adc = 0
	case cmd == 0x00:
	case cmd >= 0xA0 && cmd <= 0xAE && cmd%2 == 0:
	case cmd >= 0x40 && cmd <= 0x4A && cmd%2 == 0:
		m.adc = m.d1 & 0xFFFFFF
	case cmd >= 0x50 && cmd <= 0x5A && cmd%2 == 0:
		m.adc = m.d2 & 0xFFFFFF
	default:
		return fmt.Errorf("%w: %#02x", ErrUnknownCommand, cmd)
	}
	m.cmd = cmd
	return nil
}

func (m *MS5837) Read(r []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	switch {
	case m.cmd >= 0xA0 && m.cmd <= 0xAE:
		word := m.prom[(m.cmd-0xA0)/2]
		fillBE(r, uint32(word), 2)
	case m.cmd == 0x00:
		fillBE(r, m.adc, 3)
		// a second read without a new conversion returns 0
		m.adc = 0
	default:
		for i := range r {
			r[i] = 0
		}
	}
	return nil
}

func fillBE(r []byte, v uint32, size int) {
	for i := range r {
		if i < size {
			r[i] = byte(v >> (8 * (size - 1 - i)))
		} else {
			r[i] = 0
		}
	}
}
