// Package capture records radio traffic to pcapng files and reads it back.
package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/samaelod/xbridge/types"
)

// LinkTypeUser0 is DLT_USER0, reserved for private encapsulations.
const LinkTypeUser0 layers.LinkType = 147

const recordHeaderLen = 14

// LayerTypeRadioRecord is registered in gopacket's user range.
var LayerTypeRadioRecord = gopacket.RegisterLayerType(2147, gopacket.LayerTypeMetadata{
	Name:    "RadioRecord",
	Decoder: gopacket.DecodeFunc(decodeRadioRecord),
})

// RadioRecord is the capture header placed before each radio payload:
//
//	direction(1) extended(8) endpoint(1) profile(2) cluster(2)
type RadioRecord struct {
	layers.BaseLayer
	Direction types.Direction
	Address   types.NodeAddress
}

func (r *RadioRecord) LayerType() gopacket.LayerType { return LayerTypeRadioRecord }

func (r *RadioRecord) CanDecode() gopacket.LayerClass { return LayerTypeRadioRecord }

func (r *RadioRecord) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (r *RadioRecord) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < recordHeaderLen {
		df.SetTruncated()
		return fmt.Errorf("radio record: %d bytes, need %d", len(data), recordHeaderLen)
	}
	r.Direction = types.Direction(data[0])
	r.Address = types.NodeAddress{
		Extended:  binary.BigEndian.Uint64(data[1:9]),
		Endpoint:  data[9],
		ProfileID: binary.BigEndian.Uint16(data[10:12]),
		ClusterID: binary.BigEndian.Uint16(data[12:14]),
	}
	r.BaseLayer = layers.BaseLayer{Contents: data[:recordHeaderLen], Payload: data[recordHeaderLen:]}
	return nil
}

func (r *RadioRecord) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	hdr, err := b.PrependBytes(recordHeaderLen)
	if err != nil {
		return err
	}
	hdr[0] = byte(r.Direction)
	binary.BigEndian.PutUint64(hdr[1:9], r.Address.Extended)
	hdr[9] = r.Address.Endpoint
	binary.BigEndian.PutUint16(hdr[10:12], r.Address.ProfileID)
	binary.BigEndian.PutUint16(hdr[12:14], r.Address.ClusterID)
	return nil
}

func decodeRadioRecord(data []byte, p gopacket.PacketBuilder) error {
	r := &RadioRecord{}
	if err := r.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(r)
	return p.NextDecoder(r.NextLayerType())
}
