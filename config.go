package mstp

import "time"

// PortConfig carries the static configuration of one physical MS/TP port:
// the station's address, ring sizing, and the six normative timing
// parameters. NewPortConfig applies BACnet-conformant defaults; callers
// override individual fields afterward.
type PortConfig struct {
	ThisStation    uint8
	MaxMaster      uint8
	MaxInfoFrames  uint16
	Baud           int
	Npoll          int
	NretryToken    int

	TFrameAbort    time.Duration
	TUsageTimeout  time.Duration
	TReplyTimeout  time.Duration
	TSlot          time.Duration
	TReplyDelay    time.Duration
	// TNoTokenBase is the station-independent term of T_no_token; the
	// full parameter is TNoTokenBase + TSlot*ThisStation, per T_no_token
	// ~= 500 + 10*TS with the default TSlot of 10ms.
	TNoTokenBase time.Duration
}

// SupportedBaudRates lists the UART baud rates the core assumes a half
// duplex 8-N-1 serial driver can be configured to; the core never programs
// the UART itself.
var SupportedBaudRates = []int{9600, 19200, 38400, 57600, 76800, 115200}

// NewPortConfig returns a PortConfig for station ts with the standard's
// conventional defaults: Nmax_master at the top of the master range,
// Nmax_info_frames of 1 (one information frame per token hold), and Npoll
// at a single sweep per token hold.
func NewPortConfig(ts uint8) *PortConfig {
	return &PortConfig{
		ThisStation:   ts,
		MaxMaster:     MaxMasterAddress,
		MaxInfoFrames: 1,
		Baud:          38400,
		Npoll:         1,
		NretryToken:   1,
		TFrameAbort:   60 * time.Millisecond,
		TUsageTimeout: 50 * time.Millisecond,
		TReplyTimeout: 295 * time.Millisecond,
		TSlot:         10 * time.Millisecond,
		TReplyDelay:   250 * time.Millisecond,
		TNoTokenBase:  500 * time.Millisecond,
	}
}

// TNoToken is T_no_token ~= 500 + 10*TS, scaled by the station's own
// address so that higher-numbered stations back off proportionally longer
// before assuming the token is lost.
func (c *PortConfig) TNoToken() time.Duration {
	return c.TNoTokenBase + c.TSlot*time.Duration(c.ThisStation)
}

// ValidBaud reports whether baud is one of the UART rates the core
// assumes a compliant serial driver supports.
func ValidBaud(baud int) bool {
	for _, b := range SupportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}
