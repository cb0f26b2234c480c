package pressure

// crc4 computes the 4-bit PROM checksum. The stored CRC nibble in word 0 and
// word 7 are treated as zero; prom itself is left untouched.
func crc4(prom [8]uint16) uint8 {
	prom[0] &= 0x0FFF
	prom[7] = 0
	var rem uint16
	for i := 0; i < 16; i++ {
		if i%2 == 1 {
			rem ^= prom[i>>1] & 0x00FF
		} else {
			rem ^= prom[i>>1] >> 8
		}
		for bit := 8; bit > 0; bit-- {
			if rem&0x8000 != 0 {
				rem = (rem << 1) ^ 0x3000
			} else {
				rem <<= 1
			}
		}
	}
	return uint8((rem >> 12) & 0x000F)
}

// compensate applies the 30BA second order compensation to raw pressure
// (d1) and temperature (d2) conversions. It returns pressure in mbar and
// temperature in 0.01 °C.
//
// Every power of two division is an arithmetic shift and the final /10 is a
// truncating division, so results for negative intermediates differ from a
// plain floating point evaluation.
func compensate(c [8]uint16, d1, d2 uint32) (pressure int32, temperature int32) {
	c1, c2, c3, c4, c5, c6 := int64(c[1]), int64(c[2]), int64(c[3]), int64(c[4]), int64(c[5]), int64(c[6])
	raw1, raw2 := int64(d1), int64(d2)

	dT := raw2 - c5<<8
	temp := 2000 + (dT*c6)>>23
	off := c2<<16 + (c4*dT)>>7
	sens := c1<<15 + (c3*dT)>>8

	var t2, off2, sens2 int64
	if temp < 2000 {
		t2 = 3 * ((dT * dT) >> 33)
		sq := (temp - 2000) * (temp - 2000)
		off2 = (3 * sq) >> 1
		sens2 = (5 * sq) >> 3
		if temp < -1500 {
			sq15 := (temp + 1500) * (temp + 1500)
			off2 += 7 * sq15
			sens2 += 4 * sq15
		}
	} else {
		t2 = 2 * ((dT * dT) >> 37)
		sq := (temp - 2000) * (temp - 2000)
		off2 = sq >> 4
		sens2 = 0
	}
	temp -= t2
	off -= off2
	sens -= sens2

	p := ((((sens * raw1) >> 21) - off) >> 13) / 10
	return int32(p), int32(temp)
}
