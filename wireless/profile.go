package wireless

import "fmt"

// Series2Threshold is the lowest hardware version (HV) that speaks ZigBee
// explicit addressing; anything at or below it is treated as Series 1.
const Series2Threshold = 6400

// EncryptionOverhead is subtracted from the MTU when EE is on.
const EncryptionOverhead = 18

// Profile is the binding used for every transmission plus the payload limit.
type Profile struct {
	Name      string
	Series    int
	Endpoint  uint8
	ProfileID uint16
	ClusterID uint16
	MTU       int
	Encrypted bool
}

var (
	Series1 = Profile{Name: "series1", Series: 1, MTU: 100}
	Series2 = Profile{Name: "series2", Series: 2, Endpoint: 0xE8, ProfileID: 0xC105, ClusterID: 0x11, MTU: 72}
)

// SelectProfile picks the binding from a hardware probe. A failed probe
// falls back to Series 1.
func SelectProfile(hv uint16, probeErr error, encrypted bool) Profile {
	p := Series1
	if probeErr == nil && hv > Series2Threshold {
		p = Series2
	}
	if encrypted {
		p.Encrypted = true
		p.MTU -= EncryptionOverhead
	}
	return p
}

// WithMTU overrides the payload limit; non-positive values keep the default.
func (p Profile) WithMTU(mtu int) Profile {
	if mtu > 0 {
		p.MTU = mtu
	}
	return p
}

func (p Profile) String() string {
	return fmt.Sprintf("%s ep=0x%02x profile=0x%04x cluster=0x%02x mtu=%d",
		p.Name, p.Endpoint, p.ProfileID, p.ClusterID, p.MTU)
}
