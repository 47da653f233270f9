package wireless

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	xerrors "github.com/samaelod/xbridge/errors"
)

func TestSelectProfile(t *testing.T) {
	probeFailed := errors.New("no response")

	tests := []struct {
		name      string
		hv        uint16
		err       error
		encrypted bool
		series    int
		mtu       int
	}{
		{"series2", 0x1E43, nil, false, 2, 72},
		{"series2 encrypted", 0x1E43, nil, true, 2, 54},
		{"threshold is series1", Series2Threshold, nil, false, 1, 100},
		{"series1", 0x180B, nil, false, 1, 100},
		{"series1 encrypted", 0x180B, nil, true, 1, 82},
		{"probe failed falls back", 0x1E43, probeFailed, false, 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SelectProfile(tt.hv, tt.err, tt.encrypted)
			assert.Equal(t, tt.series, p.Series)
			assert.Equal(t, tt.mtu, p.MTU)
			assert.Equal(t, tt.encrypted, p.Encrypted)
		})
	}

	s2 := SelectProfile(0x2000, nil, false)
	assert.Equal(t, uint8(0xE8), s2.Endpoint)
	assert.Equal(t, uint16(0xC105), s2.ProfileID)
	assert.Equal(t, uint16(0x11), s2.ClusterID)
	assert.Equal(t, 40, s2.WithMTU(40).MTU)
	assert.Equal(t, 72, s2.WithMTU(0).MTU)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, xerrors.ErrorTransient, Classify(ErrWouldBlock))
	assert.Equal(t, xerrors.ErrorTransient, Classify(&DeliveryError{Reason: "no ack"}))
	assert.Equal(t, xerrors.ErrorInvalid, Classify(ErrTooLarge))
	assert.Equal(t, xerrors.ErrorFatal, Classify(fmt.Errorf("xbee: %w", ErrClosed)))
	assert.Equal(t, xerrors.ErrorFatal, Classify(io.ErrClosedPipe))
}
