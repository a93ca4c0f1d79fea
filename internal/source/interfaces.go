package source

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/gopacket/pcap"
	psnet "github.com/shirou/gopsutil/v3/net"

	"firestige.xyz/flowlens/internal/log"
)

// Interface describes a capturable device.
type Interface struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
	Loopback    bool     `json:"loopback"`
	Up          bool     `json:"up"`

	// OS counters since boot; zero when unavailable.
	BytesRecv   uint64 `json:"bytes_recv"`
	BytesSent   uint64 `json:"bytes_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	DropIn      uint64 `json:"drop_in"`
}

// ListInterfaces enumerates the devices libpcap can open, annotated with
// OS traffic counters.
func ListInterfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	counters := map[string]psnet.IOCountersStat{}
	if stats, err := psnet.IOCounters(true); err == nil {
		for _, s := range stats {
			counters[s.Name] = s
		}
	} else {
		log.GetLogger().WithError(err).Debug("interface counters unavailable")
	}

	out := make([]Interface, 0, len(devs))
	for _, d := range devs {
		out = append(out, buildInterface(d, counters[d.Name]))
	}
	slices.SortFunc(out, func(a, b Interface) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// pcap interface flags (PCAP_IF_*).
const (
	pcapIfLoopback = 0x1
	pcapIfUp       = 0x2
)

func buildInterface(d pcap.Interface, c psnet.IOCountersStat) Interface {
	iface := Interface{
		Name:        d.Name,
		Description: d.Description,
		Loopback:    d.Flags&pcapIfLoopback != 0,
		Up:          d.Flags&pcapIfUp != 0,
		BytesRecv:   c.BytesRecv,
		BytesSent:   c.BytesSent,
		PacketsRecv: c.PacketsRecv,
		DropIn:      c.Dropin,
	}
	for _, a := range d.Addresses {
		if a.IP != nil {
			iface.Addresses = append(iface.Addresses, a.IP.String())
		}
	}
	return iface
}

// DefaultInterface picks the busiest non-loopback interface that is up.
func DefaultInterface(ifaces []Interface) (string, bool) {
	var (
		best  Interface
		found bool
	)
	for _, i := range ifaces {
		if i.Loopback || !i.Up || i.Name == "any" {
			continue
		}
		if !found || i.BytesRecv+i.BytesSent > best.BytesRecv+best.BytesSent {
			best, found = i, true
		}
	}
	return best.Name, found
}
