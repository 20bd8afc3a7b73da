package backend

import (
	"fmt"
	"net"
)

// networkAddrs holds the addresses derived from a network's CIDR block.
// The derivation is a fixed convention of the default adapter: the gateway
// is the first host address, the netmask is the conventional /24 mask, and
// the DHCP range spans .100 through .254 inside the same three octets.
type networkAddrs struct {
	Gateway   string
	Netmask   string
	DHCPStart string
	DHCPEnd   string
}

// deriveNetworkAddrs computes the adapter's address convention from a CIDR
// block such as "192.168.100.0/24".
func deriveNetworkAddrs(cidr string) (networkAddrs, error) {
	ip, _, err := net.ParseCIDR(cidr)
	if err != nil {
		return networkAddrs{}, fmt.Errorf("parse CIDR %q: %w", cidr, err)
	}
	v4 := ip.To4()
	if v4 == nil {
		return networkAddrs{}, fmt.Errorf("CIDR %q is not IPv4", cidr)
	}

	prefix := fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
	return networkAddrs{
		Gateway:   prefix + ".1",
		Netmask:   "255.255.255.0",
		DHCPStart: prefix + ".100",
		DHCPEnd:   prefix + ".254",
	}, nil
}

// GatewayForCIDR returns the gateway address the adapter assigns for a CIDR
// block. Exposed for collaborators (cloud-init network-config rendering)
// that must agree with the adapter's convention.
func GatewayForCIDR(cidr string) (string, error) {
	addrs, err := deriveNetworkAddrs(cidr)
	if err != nil {
		return "", err
	}
	return addrs.Gateway, nil
}
