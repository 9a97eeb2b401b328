package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// readTimeout bounds how long a reader blocks before checking for Close.
const readTimeout = 100 * time.Millisecond

// PcapBackend captures through libpcap (Npcap on Windows). Opening a device
// usually needs elevated privileges or CAP_NET_RAW.
type PcapBackend struct{}

var _ Backend = PcapBackend{}

// Open activates a non-promiscuous capture on device with the given BPF
// filter.
func (PcapBackend) Open(device, filter string, bufferSize, snapLen int) (PacketSource, error) {
	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetBufferSize(bufferSize); err != nil {
		return nil, fmt.Errorf("set buffer size: %w", err)
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}
	if err := inactive.SetPromisc(false); err != nil {
		return nil, fmt.Errorf("set promisc: %w", err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	if err := h.SetBPFFilter(filter); err != nil {
		h.Close()
		return nil, fmt.Errorf("set filter: %w", err)
	}
	return &pcapSource{h: h}, nil
}

// DefaultDevice returns the first device that has an address and is not a
// loopback interface.
func (PcapBackend) DefaultDevice() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", err
	}
	for _, d := range devs {
		if len(d.Addresses) == 0 {
			continue
		}
		loopback := false
		for _, a := range d.Addresses {
			if a.IP.IsLoopback() {
				loopback = true
				break
			}
		}
		if !loopback {
			return d.Name, nil
		}
	}
	return "", errors.New("no non-loopback capture device found")
}

type pcapSource struct {
	h *pcap.Handle
}

func (s *pcapSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.h.ZeroCopyReadPacketData()
	switch {
	case errors.Is(err, pcap.NextErrorTimeoutExpired):
		return nil, ci, ErrTimeout
	case errors.Is(err, pcap.NextErrorNoMorePackets):
		return nil, ci, io.EOF
	}
	return data, ci, err
}

func (s *pcapSource) LinkType() layers.LinkType { return s.h.LinkType() }

func (s *pcapSource) Close() { s.h.Close() }
