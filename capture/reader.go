package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/xbridge/types"
)

// Record is one decoded capture entry.
type Record struct {
	Time      time.Time
	Direction types.Direction
	Address   types.NodeAddress
	Payload   []byte
}

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// Reader walks a capture written by Writer. Classic pcap files with the
// same link type are accepted too.
type Reader struct {
	file *os.File
	src  *gopacket.PacketSource
}

func detectFormat(r *bufio.Reader) string {
	header, err := r.Peek(4)
	if err != nil {
		return "pcap"
	}
	magic := binary.LittleEndian.Uint32(header)
	if magic == 0x0A0D0D0A {
		return "pcapng"
	}
	return "pcap"
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)

	var src packetSource
	switch detectFormat(br) {
	case "pcapng":
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	default:
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture %s: %w", path, err)
	}
	if lt := src.LinkType(); lt != LinkTypeUser0 {
		f.Close()
		return nil, fmt.Errorf("capture %s: link type %d is not a radio capture", path, lt)
	}

	ps := gopacket.NewPacketSource(src, LayerTypeRadioRecord)
	ps.NoCopy = true
	return &Reader{file: f, src: ps}, nil
}

// Next returns the next record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		pkt, err := r.src.NextPacket()
		if err != nil {
			return Record{}, err
		}
		l := pkt.Layer(LayerTypeRadioRecord)
		if l == nil {
			continue
		}
		rec := l.(*RadioRecord)
		return Record{
			Time:      pkt.Metadata().Timestamp,
			Direction: rec.Direction,
			Address:   rec.Address,
			Payload:   rec.LayerPayload(),
		}, nil
	}
}

func (r *Reader) Close() error { return r.file.Close() }

// ReadAll loads every record in a capture file.
func ReadAll(path string) ([]Record, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Dump prints a capture one record per line.
func Dump(w io.Writer, path string, names func(types.NodeAddress) string) error {
	recs, err := ReadAll(path)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		who := rec.Address.String()
		if names != nil {
			if n := names(rec.Address); n != "" {
				who = n
			}
		}
		if _, err := fmt.Fprintf(w, "%s %s %-26s %4d %q\n",
			rec.Time.Format("15:04:05.000"), rec.Direction, who, len(rec.Payload), rec.Payload); err != nil {
			return err
		}
	}
	return nil
}
