package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

const snapLen = 65536

// PcapRecorder appends every record of a session to a pcap file.
// Records without raw frame bytes are re-synthesized from their fields.
type PcapRecorder struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	writer  *pcapgo.Writer
	path    string
	packets int
}

// NewPcapRecorder truncates path and writes the file header. Every Record
// reaches the file before it returns.
func NewPcapRecorder(path string) (*PcapRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &PcapRecorder{file: f, buf: buf, writer: w, path: path}, nil
}

// Record writes one packet
func (r *PcapRecorder) Record(rec models.PacketRecord) error {
	data := rec.Frame
	if len(data) == 0 {
		var err error
		if data, err = FrameFor(rec); err != nil {
			return fmt.Errorf("synthesize frame: %w", err)
		}
	}
	if len(data) > snapLen {
		data = data[:snapLen]
	}

	length := rec.Length
	if length < len(data) {
		length = len(data)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return os.ErrClosed
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     rec.Timestamp,
		CaptureLength: len(data),
		Length:        length,
	}
	if err := r.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	// the file may be downloaded mid-session
	if err := r.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush pcap: %w", err)
	}
	r.packets++
	return nil
}

// Packets returns how many packets have been written
func (r *PcapRecorder) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

// Path returns the output file
func (r *PcapRecorder) Path() string { return r.path }

// Close flushes and closes the file. Closing twice is a no-op.
func (r *PcapRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return nil
	}
	r.writer = nil
	return errors.Join(r.buf.Flush(), r.file.Close())
}

// ReadPcap decodes every IP packet in a pcap stream and sends the records to
// out until the stream ends or ctx is cancelled. It returns the number of
// records sent.
func ReadPcap(ctx context.Context, src io.Reader, out chan<- models.PacketRecord) (int, error) {
	r, err := pcapgo.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open pcap stream: %w", err)
	}

	source := gopacket.NewPacketSource(r, r.LinkType())
	sent := 0
	for {
		pkt, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("failed to read packet: %w", err)
		}

		rec, ok := FromPacket(pkt)
		if !ok {
			continue
		}

		select {
		case out <- rec:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
}

// ReplayFile is ReadPcap over a file on disk
func ReplayFile(ctx context.Context, path string, out chan<- models.PacketRecord) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pcap file: %w", err)
	}
	defer f.Close()
	return ReadPcap(ctx, bufio.NewReader(f), out)
}
