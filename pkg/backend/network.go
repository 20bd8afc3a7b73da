package backend

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// ListNetworks returns all defined networks with their detail parsed from
// the backend's XML descriptions.
func (v *Virsh) ListNetworks(ctx context.Context) ([]resources.Network, error) {
	out, err := v.run(ctx, "net-list", "--all", "--name")
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}

	networks := make([]resources.Network, 0)
	for _, name := range listNames(out) {
		net, err := v.describeNetwork(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe network %s: %w", name, err)
		}
		networks = append(networks, net)
	}
	return networks, nil
}

func (v *Virsh) describeNetwork(ctx context.Context, name string) (resources.Network, error) {
	out, err := v.run(ctx, "net-dumpxml", name)
	if err != nil {
		return resources.Network{}, err
	}

	var doc networkXML
	if err := xml.Unmarshal([]byte(out), &doc); err != nil {
		return resources.Network{}, fmt.Errorf("parse network XML: %w", err)
	}

	net := resources.Network{
		Name:   doc.Name,
		Active: v.networkActive(ctx, name),
	}
	if doc.Forward != nil {
		net.Mode = doc.Forward.Mode
	}
	if doc.IP != nil {
		net.CIDR = cidrFromGateway(doc.IP.Address)
		net.DHCP = doc.IP.DHCP != nil
	}
	net.DNS = doc.DNS == nil || doc.DNS.Enable != "no"
	return net, nil
}

// networkActive parses the Active line of net-info output.
func (v *Virsh) networkActive(ctx context.Context, name string) bool {
	out, err := v.run(ctx, "net-info", name)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Active:") {
			return strings.Contains(line, "yes")
		}
	}
	return false
}

// cidrFromGateway inverts the adapter's address convention: a gateway of
// a.b.c.1 corresponds to the block a.b.c.0/24.
func cidrFromGateway(gateway string) string {
	octets := strings.Split(gateway, ".")
	if len(octets) != 4 {
		return ""
	}
	return fmt.Sprintf("%s.%s.%s.0/24", octets[0], octets[1], octets[2])
}

// CreateNetwork serializes the network into its XML description, defines it
// from a scoped temporary file, starts it, and marks it autostart.
func (v *Virsh) CreateNetwork(ctx context.Context, net resources.Network) error {
	addrs, err := deriveNetworkAddrs(net.CIDR)
	if err != nil {
		return err
	}

	doc := networkXML{
		Name:    net.Name,
		Forward: &forwardXML{Mode: net.Mode},
		Bridge:  &bridgeXML{STP: "on", Delay: "0"},
		IP: &networkIPXML{
			Address: addrs.Gateway,
			Netmask: addrs.Netmask,
		},
	}
	if net.DHCP {
		doc.IP.DHCP = &dhcpXML{Range: &dhcpRangeXML{Start: addrs.DHCPStart, End: addrs.DHCPEnd}}
	}
	if !net.DNS {
		doc.DNS = &networkDNSXML{Enable: "no"}
	}

	body, err := marshalXML(doc)
	if err != nil {
		return fmt.Errorf("marshal network XML: %w", err)
	}

	v.log.Info().Str("network", net.Name).Msg("creating network")
	return v.withTempXML("kestrel-net-*.xml", body, func(path string) error {
		if _, err := v.run(ctx, "net-define", path); err != nil {
			return fmt.Errorf("net-define: %w", err)
		}
		if _, err := v.run(ctx, "net-start", net.Name); err != nil {
			return fmt.Errorf("net-start: %w", err)
		}
		if _, err := v.run(ctx, "net-autostart", net.Name); err != nil {
			return fmt.Errorf("net-autostart: %w", err)
		}
		return nil
	})
}

// DeleteNetwork stops and undefines a network. Stopping an already-stopped
// network is not an error.
func (v *Virsh) DeleteNetwork(ctx context.Context, name string) error {
	v.log.Info().Str("network", name).Msg("deleting network")
	_, _ = v.run(ctx, "net-destroy", name)
	if _, err := v.run(ctx, "net-undefine", name); err != nil {
		return fmt.Errorf("net-undefine: %w", err)
	}
	return nil
}
