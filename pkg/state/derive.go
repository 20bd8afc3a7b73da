package state

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/resources"
)

// Node roles. Node names are synthesized as {role}-{index}; the convention
// is part of the desired-state derivation, so changing it breaks
// idempotency against already-provisioned hosts.
const (
	RoleMaster = "master"
	RoleWorker = "worker"
)

// NodeName returns the deterministic name of a node.
func NodeName(role string, index int) string {
	return fmt.Sprintf("%s-%d", role, index)
}

// ParseNodeName splits a node name back into role and index. ok is false
// for names outside the convention.
func ParseNodeName(name string) (role string, index int, ok bool) {
	i := strings.LastIndex(name, "-")
	if i <= 0 || i == len(name)-1 {
		return "", 0, false
	}
	role = name[:i]
	index, err := strconv.Atoi(name[i+1:])
	if err != nil || index < 0 {
		return "", 0, false
	}
	if role != RoleMaster && role != RoleWorker {
		return "", 0, false
	}
	return role, index, true
}

// rootVolumeName returns the node's primary disk volume name.
func rootVolumeName(node string) string { return node + "-root" }

// seedVolumeName returns the node's cloud-init seed volume name.
func seedVolumeName(node string) string { return node + "-cloudinit" }

// FromConfig derives the desired state from configuration. It is pure and
// deterministic: the same configuration always yields the same names and
// addresses, which is what makes repeated reconciliations idempotent.
func FromConfig(cfg *config.Config) (State, error) {
	s := State{CapturedAt: time.Now()}

	s.Networks = []resources.Network{{
		Name:   cfg.Network.Name,
		Mode:   cfg.Network.Mode,
		CIDR:   cfg.Network.CIDR,
		DHCP:   true,
		DNS:    true,
		Active: true,
	}}

	s.Pools = []resources.Pool{{
		Name:   cfg.Storage.Pool,
		Type:   "dir",
		Path:   cfg.Storage.Path,
		Active: true,
	}}

	s.Volumes = []resources.Volume{{
		Name:   cfg.Storage.Image.Name,
		Pool:   cfg.Storage.Pool,
		Format: cfg.Storage.Image.Format,
		Source: cfg.Storage.Image.URL,
	}}

	groups := []struct {
		role string
		cfg  config.NodeGroupConfig
	}{
		{RoleMaster, cfg.Nodes.Masters},
		{RoleWorker, cfg.Nodes.Workers},
	}

	for _, group := range groups {
		for i := 0; i < group.cfg.Count; i++ {
			node := NodeName(group.role, i)

			ip, err := offsetIP(group.cfg.IPStart, i)
			if err != nil {
				return State{}, fmt.Errorf("derive address for %s: %w", node, err)
			}

			root := resources.Volume{
				Name:       rootVolumeName(node),
				Pool:       cfg.Storage.Pool,
				Format:     "qcow2",
				Capacity:   uint64(group.cfg.DiskGB) << 30,
				BaseVolume: cfg.Storage.Image.Name,
			}
			seed := resources.Volume{
				Name:   seedVolumeName(node),
				Pool:   cfg.Storage.Pool,
				Format: "raw",
			}
			s.Volumes = append(s.Volumes, root, seed)

			s.Domains = append(s.Domains, resources.Domain{
				Name:            node,
				MemoryMB:        group.cfg.MemoryMB,
				VCPUs:           group.cfg.VCPUs,
				Network:         cfg.Network.Name,
				Pool:            cfg.Storage.Pool,
				DiskVolume:      root.Name,
				CloudInitVolume: seed.Name,
				IPAddress:       ip,
				Running:         true,
			})
		}
	}

	return s, nil
}

// offsetIP adds offset to the final octet of an IPv4 address. The result
// must stay inside the host range of a /24.
func offsetIP(start string, offset int) (string, error) {
	ip := net.ParseIP(start)
	if ip == nil {
		return "", fmt.Errorf("invalid address %q", start)
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("address %q is not IPv4", start)
	}
	last := int(v4[3]) + offset
	if last > 254 {
		return "", fmt.Errorf("address %q + %d exceeds the /24 host range", start, offset)
	}
	return fmt.Sprintf("%d.%d.%d.%d", v4[0], v4[1], v4[2], last), nil
}
