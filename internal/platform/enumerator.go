package platform

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"
	nl "github.com/vishvananda/netlink"

	"github.com/weftlabs/meshbond/internal/node"
)

const (
	defaultWirelessProcPath = "/proc/net/wireless"
	defaultOutboundProbe    = "8.8.8.8:80"
)

// SystemEnumerator implements Enumerator against the running host using
// gopsutil for enumeration and netlink for admin state changes.
type SystemEnumerator struct {
	log *slog.Logger

	// wirelessProcPath and outboundProbe are fixed in production and
	// overridden by tests.
	wirelessProcPath string
	outboundProbe    string
}

func NewSystemEnumerator(log *slog.Logger) *SystemEnumerator {
	return &SystemEnumerator{
		log:              log,
		wirelessProcPath: defaultWirelessProcPath,
		outboundProbe:    defaultOutboundProbe,
	}
}

// Interfaces returns every non-loopback interface with its classification,
// operational state, addresses and, for wireless interfaces, signal level.
func (e *SystemEnumerator) Interfaces(ctx context.Context) ([]node.Interface, error) {
	stats, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate interfaces: %w", err)
	}

	wireless := e.wirelessTable()

	out := make([]node.Interface, 0, len(stats))
	for _, st := range stats {
		if hasFlag(st.Flags, "loopback") || strings.HasPrefix(st.Name, "lo") {
			continue
		}

		kind := Classify(st.Name)
		if kind == node.KindUnknown {
			if _, ok := wireless[st.Name]; ok {
				kind = node.KindWireless
			}
		}

		up := hasFlag(st.Flags, "up")
		ifc := node.Interface{
			Name:      st.Name,
			Kind:      kind,
			Up:        up,
			Active:    up,
			HWAddress: st.HardwareAddr,
			Address:   firstIPv4(st.Addrs),
		}
		if kind == node.KindWireless {
			if level, ok := wireless[st.Name]; ok {
				ifc.SignalStrength = level
			}
		}
		out = append(out, ifc)
	}
	return out, nil
}

// IsUp reports the operational flag for the named interface.
func (e *SystemEnumerator) IsUp(name string) (bool, error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrUnavailableInterface, name)
	}
	return ifc.Flags&net.FlagUp != 0, nil
}

// AdminUp brings the named link administratively up.
func (e *SystemEnumerator) AdminUp(name string) error {
	link, err := nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailableInterface, name)
	}
	if err := nl.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to set link %s up: %w", name, err)
	}
	return nil
}

// AdminDown takes the named link administratively down.
func (e *SystemEnumerator) AdminDown(name string) error {
	link, err := nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailableInterface, name)
	}
	if err := nl.LinkSetDown(link); err != nil {
		return fmt.Errorf("failed to set link %s down: %w", name, err)
	}
	return nil
}

// LocalAddress returns the source address the host would use for outbound
// traffic, via a connected UDP socket that never sends a packet.
func (e *SystemEnumerator) LocalAddress() (string, error) {
	conn, err := net.Dial("udp4", e.outboundProbe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// HWAddress returns the hardware address of the named interface.
func (e *SystemEnumerator) HWAddress(name string) (string, error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailableInterface, name)
	}
	return ifc.HardwareAddr.String(), nil
}

// Classify maps an interface name to its kind by prefix. Names the
// prefixes miss stay unknown; the enumerator additionally promotes
// unknown names found in the wireless table.
func Classify(name string) node.Kind {
	n := strings.ToLower(name)
	switch {
	case hasAnyPrefix(n, "wl", "wifi", "wlan"):
		return node.KindWireless
	case hasAnyPrefix(n, "ppp", "wwan", "rmnet", "cdc"):
		return node.KindCellular
	case hasAnyPrefix(n, "eth", "en"):
		return node.KindWired
	default:
		return node.KindUnknown
	}
}

// wirelessTable parses the kernel wireless table into name → signal level
// (dBm). A missing or unreadable table yields an empty map; wireless
// classification then rests on prefixes alone.
func (e *SystemEnumerator) wirelessTable() map[string]int {
	out := map[string]int{}

	f, err := os.Open(e.wirelessProcPath)
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if line <= 2 {
			// Two header lines.
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			continue
		}
		out[name] = int(level)
	}
	return out
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func firstIPv4(addrs gnet.InterfaceAddrList) string {
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.Addr)
		if err != nil {
			ip = net.ParseIP(a.Addr)
		}
		if ip != nil && ip.To4() != nil {
			return ip.String()
		}
	}
	return ""
}
