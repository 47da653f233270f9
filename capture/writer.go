package capture

import (
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/xbridge/types"
)

// Writer appends radio records to a pcapng file.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	ng   *pcapgo.NgWriter
	buf  gopacket.SerializeBuffer
}

func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	ng, err := pcapgo.NewNgWriter(f, LinkTypeUser0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{file: f, ng: ng, buf: gopacket.NewSerializeBuffer()}, nil
}

// Record writes one datagram. It satisfies the bridge's recorder hook.
func (w *Writer) Record(dir types.Direction, addr types.NodeAddress, payload []byte, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := &RadioRecord{Direction: dir, Address: addr}
	if err := gopacket.SerializeLayers(w.buf, gopacket.SerializeOptions{}, rec, gopacket.Payload(payload)); err != nil {
		return err
	}
	data := w.buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.ng.WritePacket(ci, data); err != nil {
		return err
	}
	return w.ng.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ng.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
