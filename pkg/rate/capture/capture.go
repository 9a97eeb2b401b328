// Package capture counts wire-level bytes exchanged with one remote endpoint,
// independently of what the transport reports about itself.
//
// A [Capture] runs two filtered packet captures, one per direction, each on
// its own goroutine with a buffer from a shared [BufferPool]. Packets are read
// through a [Backend]; [PcapBackend] is the libpcap implementation.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultKernelBuffer is the libpcap buffer size used for each direction.
const DefaultKernelBuffer = 10 << 20

var (
	// ErrTruncated is returned when a captured packet did not fit in the
	// capture buffer, which would make its byte count unreliable.
	ErrTruncated = errors.New("capture: packet truncated")

	// ErrTimeout is returned by [PacketSource.ReadPacket] when no packet
	// arrived within the read timeout. It is not a failure.
	ErrTimeout = errors.New("capture: read timeout")

	// ErrClosed is returned by [Capture.Close] on its second call.
	ErrClosed = errors.New("capture: already closed")
)

// PacketSource yields captured packets.
type PacketSource interface {
	// ReadPacket returns the next packet. data is only valid until the next
	// call. It returns [ErrTimeout] when nothing arrived in time and
	// [io.EOF] once the source is exhausted.
	ReadPacket() (data []byte, ci gopacket.CaptureInfo, err error)

	// LinkType is the link layer of captured packets.
	LinkType() layers.LinkType

	// Close releases the source. It is only called after reading stopped.
	Close()
}

// Backend opens packet sources.
type Backend interface {
	// Open starts a capture on device limited by a pcap-filter expression.
	Open(device, filter string, bufferSize, snapLen int) (PacketSource, error)

	// DefaultDevice returns the first non-loopback capture device.
	DefaultDevice() (string, error)
}

// Direction selects which side of the conversation a capture counts.
type Direction int

const (
	// Sent counts packets going to the remote endpoint.
	Sent Direction = iota
	// Received counts packets coming from the remote endpoint.
	Received
)

// String returns "sent" or "received".
func (d Direction) String() string {
	if d == Sent {
		return "sent"
	}
	return "received"
}

// qualifier is the pcap-filter direction keyword.
func (d Direction) qualifier() string {
	if d == Sent {
		return "dst"
	}
	return "src"
}

// Filter returns the pcap-filter expression matching traffic with ip:port
// over protocol, e.g. "host 10.0.0.1 and port 3478 and udp".
func Filter(ip string, port int, protocol string) string {
	return fmt.Sprintf("host %s and port %d and %s", ip, port, protocol)
}

// DirectionalFilter returns [Filter] qualified by direction, e.g.
// "dst host 10.0.0.1 and port 3478 and udp".
func DirectionalFilter(d Direction, ip string, port int, protocol string) string {
	return d.qualifier() + " " + Filter(ip, port, protocol)
}

// Options configures [Start].
type Options struct {
	// Device to capture on. Empty selects [Backend.DefaultDevice].
	Device string

	// KernelBuffer is the backend buffer size. Zero means
	// [DefaultKernelBuffer].
	KernelBuffer int

	// Dump, if set, receives every counted packet in pcap format.
	Dump io.Writer

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Totals is the result of a finished capture.
type Totals struct {
	BytesSent     int64
	BytesReceived int64
	Device        string
	Filter        string
}

// Capture counts bytes in both directions until closed.
type Capture struct {
	pool   *BufferPool
	device string
	filter string
	log    *slog.Logger

	sent     atomic.Int64
	received atomic.Int64

	stop   chan struct{}
	wg     sync.WaitGroup
	errMu  sync.Mutex
	err    error
	closed atomic.Bool

	dumpMu sync.Mutex
	dump   *pcapgo.Writer

	readers []*reader
}

type reader struct {
	dir   Direction
	src   PacketSource
	buf   []byte
	count *atomic.Int64
}

// Start opens both directional captures for ip:port over protocol. If either
// direction cannot be opened, anything already opened is released and the
// error is returned.
func Start(b Backend, pool *BufferPool, ip string, port int, protocol string, opts Options) (*Capture, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KernelBuffer == 0 {
		opts.KernelBuffer = DefaultKernelBuffer
	}
	device := opts.Device
	if device == "" {
		d, err := b.DefaultDevice()
		if err != nil {
			return nil, fmt.Errorf("capture: find device: %w", err)
		}
		device = d
	}

	c := &Capture{
		pool:   pool,
		device: device,
		filter: Filter(ip, port, protocol),
		log:    opts.Logger,
		stop:   make(chan struct{}),
	}

	for _, dir := range []Direction{Sent, Received} {
		filter := DirectionalFilter(dir, ip, port, protocol)
		src, err := b.Open(device, filter, opts.KernelBuffer, BufferSize)
		if err != nil {
			c.release()
			return nil, fmt.Errorf("capture: open %q on %s: %w", filter, device, err)
		}
		count := &c.sent
		if dir == Received {
			count = &c.received
		}
		c.readers = append(c.readers, &reader{dir: dir, src: src, buf: pool.Acquire(), count: count})
		c.log.Info("capture started", "device", device, "filter", filter)
	}

	if opts.Dump != nil {
		w := pcapgo.NewWriter(opts.Dump)
		if err := w.WriteFileHeader(BufferSize, c.readers[0].src.LinkType()); err != nil {
			c.release()
			return nil, fmt.Errorf("capture: write dump header: %w", err)
		}
		c.dump = w
	}

	for _, r := range c.readers {
		c.wg.Add(1)
		go c.run(r)
	}
	return c, nil
}

// Filter returns the undirected filter expression.
func (c *Capture) Filter() string { return c.filter }

// Device returns the capture device.
func (c *Capture) Device() string { return c.device }

// Counts returns the bytes counted so far.
func (c *Capture) Counts() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

// Err returns the first read error, if any.
func (c *Capture) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close stops both captures, releases their buffers and returns the totals
// together with the first read error. Resources are released even when an
// error is returned.
func (c *Capture) Close() (Totals, error) {
	if !c.closed.CompareAndSwap(false, true) {
		return Totals{}, ErrClosed
	}
	close(c.stop)
	c.wg.Wait()
	c.release()

	t := Totals{
		BytesSent:     c.sent.Load(),
		BytesReceived: c.received.Load(),
		Device:        c.device,
		Filter:        c.filter,
	}
	c.log.Info("capture stopped", "filter", c.filter, "bytes_sent", t.BytesSent, "bytes_received", t.BytesReceived)
	return t, c.Err()
}

func (c *Capture) release() {
	for _, r := range c.readers {
		r.src.Close()
		c.pool.Release(r.buf)
		r.buf = nil
	}
	c.readers = nil
}

// fail records the first reader error. The reader stops counting, so the
// failure is logged right away instead of surfacing only at Close.
func (c *Capture) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
	c.log.Error("capture reader stopped", "filter", c.filter, "err", err)
}

func (c *Capture) run(r *reader) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		data, ci, err := r.src.ReadPacket()
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, io.EOF):
			return
		case err != nil:
			c.fail(fmt.Errorf("capture: read %s: %w", r.dir, err))
			return
		}

		if ci.CaptureLength < ci.Length || len(data) > len(r.buf) {
			c.fail(fmt.Errorf("%w: %s packet of %d bytes, captured %d", ErrTruncated, r.dir, ci.Length, ci.CaptureLength))
			return
		}
		n := copy(r.buf, data)
		r.count.Add(int64(ci.Length))

		if c.dump != nil {
			c.dumpMu.Lock()
			err := c.dump.WritePacket(ci, r.buf[:n])
			c.dumpMu.Unlock()
			if err != nil {
				c.log.Warn("capture dump write failed", "err", err)
			}
		}
	}
}
