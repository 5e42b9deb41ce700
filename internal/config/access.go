package config

import (
	"net"
	"os"
	"strings"
)

// StatusNetworks returns the CIDR blocks allowed to query the status server,
// from MAILPACER_STATUS_ALLOW. Bare IPs are treated as single-host networks.
// Nil means loopback only.
func StatusNetworks() []*net.IPNet {
	value := strings.TrimSpace(os.Getenv("MAILPACER_STATUS_ALLOW"))
	if value == "" {
		return nil
	}
	var result []*net.IPNet
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			if ip := net.ParseIP(part); ip != nil {
				mask := net.CIDRMask(len(ip)*8, len(ip)*8)
				network := &net.IPNet{IP: ip, Mask: mask}
				result = append(result, network)
			}
			continue
		}
		if _, network, err := net.ParseCIDR(part); err == nil {
			result = append(result, network)
		}
	}
	return result
}
