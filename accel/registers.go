package accel

// DefaultAddress is the accelerometer/gyroscope address with SDO_A/G pulled
// high.
const DefaultAddress = 0x6A

// Accelerometer registers.
const (
	regInt1Ctrl   = 0x0C
	regWhoAmI     = 0x0F
	regCtrlReg5XL = 0x1F
	regCtrlReg6XL = 0x20
	regOutXLXL    = 0x28
)

// WhoAmIResponse is the fixed WHO_AM_I value of the accelerometer/gyroscope.
const WhoAmIResponse = 0x68

// INT1_CTRL
const int1DrdyXL = 1 << 0

// CTRL_REG5_XL
const (
	ctrl5ZenXL = 1 << 5
	ctrl5YenXL = 1 << 4
	ctrl5XenXL = 1 << 3
)

// CTRL_REG6_XL
const (
	fsXLPos = 3
	fsXL4G  = 0x02 << fsXLPos

	odrXLPos       = 5
	odrXLMask      = 0x07 << odrXLPos
	odrXLPowerDown = 0x00 << odrXLPos
	odrXL10Hz      = 0x01 << odrXLPos
	odrXL50Hz      = 0x02 << odrXLPos
	odrXL119Hz     = 0x03 << odrXLPos
	odrXL238Hz     = 0x04 << odrXLPos
	odrXL476Hz     = 0x05 << odrXLPos
	odrXL952Hz     = 0x06 << odrXLPos
)

// SampleRates are the accelerometer output data rates in Hz, ascending.
var SampleRates = []uint16{10, 50, 119, 238, 476, 952}

func odrBits(rate uint16) byte {
	switch rate {
	case 10:
		return odrXL10Hz
	case 50:
		return odrXL50Hz
	case 119:
		return odrXL119Hz
	case 238:
		return odrXL238Hz
	case 476:
		return odrXL476Hz
	case 952:
		return odrXL952Hz
	}
	return odrXLPowerDown
}
