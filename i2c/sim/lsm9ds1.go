package sim

import (
	"sync"
)

// RegWrite is a single register write seen by a simulated device.
type RegWrite struct {
	Reg   byte
	Value byte
}

// LSM9DS1 models the accelerometer/gyroscope register file of an LSM9DS1.
// Multi-byte accesses auto-increment the register pointer.
type LSM9DS1 struct {
	mx     sync.Mutex
	regs   [128]byte
	ptr    byte
	writes []RegWrite
}

func NewLSM9DS1() *LSM9DS1 {
	d := &LSM9DS1{}
	d.regs[0x0F] = 0x68 // WHO_AM_I
	d.regs[0x22] = 0x04 // CTRL_REG8, IF_ADD_INC
	return d
}

// SetSample loads the accelerometer output registers.
func (d *LSM9DS1) SetSample(x, y, z int16) {
	d.mx.Lock()
	defer d.mx.Unlock()
	for i, v := range []int16{x, y, z} {
		d.regs[0x28+2*i] = byte(uint16(v))
		d.regs[0x29+2*i] = byte(uint16(v) >> 8)
	}
}

func (d *LSM9DS1) SetRegister(reg, value byte) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.regs[reg&0x7F] = value
}

func (d *LSM9DS1) Register(reg byte) byte {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.regs[reg&0x7F]
}

// Writes returns all register writes in order.
func (d *LSM9DS1) Writes() []RegWrite {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]RegWrite(nil), d.writes...)
}

func (d *LSM9DS1) Write(w []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.ptr = w[0] & 0x7F
	for _, b := range w[1:] {
		d.regs[d.ptr] = b
		d.writes = append(d.writes, RegWrite{Reg: d.ptr, Value: b})
		d.ptr = (d.ptr + 1) & 0x7F
	}
	return nil
}

func (d *LSM9DS1) Read(r []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	for i := range r {
		r[i] = d.regs[d.ptr]
		d.ptr = (d.ptr + 1) & 0x7F
	}
	return nil
}
