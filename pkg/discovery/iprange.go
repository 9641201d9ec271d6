package discovery

import (
	"fmt"
	"net"
	"strings"

	"github.com/netreach/controlplane/internal/apierr"
)

// ParseIPRange expands a "start-end" or single-IP IPv4 range string (§6
// POST /discovery's ip_range field) into its individual addresses.
func ParseIPRange(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apierr.Validation("ip_range is required")
	}

	parts := strings.SplitN(raw, "-", 2)
	start := net.ParseIP(strings.TrimSpace(parts[0])).To4()
	if start == nil {
		return nil, apierr.Validation(fmt.Sprintf("malformed ip_range start %q", raw))
	}

	end := start
	if len(parts) == 2 {
		end = net.ParseIP(strings.TrimSpace(parts[1])).To4()
		if end == nil {
			return nil, apierr.Validation(fmt.Sprintf("malformed ip_range end %q", raw))
		}
	}

	startN, endN := ipToUint32(start), ipToUint32(end)
	if endN < startN {
		return nil, apierr.Validation(fmt.Sprintf("ip_range end precedes start: %q", raw))
	}
	if endN-startN > 65535 {
		return nil, apierr.Validation("ip_range spans too many addresses")
	}

	out := make([]string, 0, endN-startN+1)
	for n := startN; n <= endN; n++ {
		out = append(out, uint32ToIP(n).String())
	}
	return out, nil
}

func ipToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(n uint32) net.IP {
	return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}
