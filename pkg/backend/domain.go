package backend

import (
	"context"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// ListDomains returns all defined domains. The owning pool of a domain's
// volumes is not recorded in the domain XML; the state layer resolves it by
// matching volume names against pool inventories.
func (v *Virsh) ListDomains(ctx context.Context) ([]resources.Domain, error) {
	out, err := v.run(ctx, "list", "--all", "--name")
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}

	domains := make([]resources.Domain, 0)
	for _, name := range listNames(out) {
		dom, err := v.describeDomain(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe domain %s: %w", name, err)
		}
		domains = append(domains, dom)
	}
	return domains, nil
}

func (v *Virsh) describeDomain(ctx context.Context, name string) (resources.Domain, error) {
	out, err := v.run(ctx, "dumpxml", name)
	if err != nil {
		return resources.Domain{}, err
	}

	var doc domainXML
	if err := xml.Unmarshal([]byte(out), &doc); err != nil {
		return resources.Domain{}, fmt.Errorf("parse domain XML: %w", err)
	}

	dom := resources.Domain{
		Name:     doc.Name,
		MemoryMB: memoryMiB(doc.Memory),
		VCPUs:    doc.VCPU,
		Running:  v.domainRunning(ctx, name),
	}

	var mac string
	for _, iface := range doc.Devices.Interfaces {
		if iface.Source != nil && iface.Source.Network != "" {
			dom.Network = iface.Source.Network
			if iface.MAC != nil {
				mac = iface.MAC.Address
			}
			break
		}
	}

	for _, disk := range doc.Devices.Disks {
		if disk.Source == nil || disk.Source.File == "" {
			continue
		}
		volume := filepath.Base(disk.Source.File)
		if disk.Device == "cdrom" || dom.DiskVolume != "" {
			dom.CloudInitVolume = volume
		} else {
			dom.DiskVolume = volume
		}
	}

	if dom.Network != "" && mac != "" {
		dom.IPAddress = v.dhcpLeaseIP(ctx, dom.Network, mac)
	}
	return dom, nil
}

func (v *Virsh) domainRunning(ctx context.Context, name string) bool {
	out, err := v.run(ctx, "domstate", name)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "running"
}

// dhcpLeaseIP looks up the lease for a MAC address in the named network.
// Best effort: an empty result means no lease is visible yet.
func (v *Virsh) dhcpLeaseIP(ctx context.Context, network, mac string) string {
	out, err := v.run(ctx, "net-dhcp-leases", network)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, mac) {
			continue
		}
		for _, field := range strings.Fields(line) {
			if strings.Contains(field, "/") && strings.Contains(field, ".") {
				return strings.SplitN(field, "/", 2)[0]
			}
		}
	}
	return ""
}

// memoryMiB normalizes the memory element to MiB.
func memoryMiB(mem memoryXML) int {
	switch mem.Unit {
	case "KiB", "":
		return mem.Value / 1024
	case "MiB":
		return mem.Value
	case "GiB":
		return mem.Value * 1024
	case "bytes", "B":
		return mem.Value / (1024 * 1024)
	default:
		return mem.Value
	}
}

// CreateDomain serializes the domain into its XML description, defines it
// from a scoped temporary file, starts it, and marks it autostart. The
// volume paths are resolved through the pool so the document carries the
// absolute file paths the backend expects.
func (v *Virsh) CreateDomain(ctx context.Context, dom resources.Domain) error {
	diskPath, err := v.volumePath(ctx, dom.Pool, dom.DiskVolume)
	if err != nil {
		return err
	}
	seedPath, err := v.volumePath(ctx, dom.Pool, dom.CloudInitVolume)
	if err != nil {
		return err
	}

	doc := domainXML{
		Type:   "kvm",
		Name:   dom.Name,
		Memory: memoryXML{Unit: "MiB", Value: dom.MemoryMB},
		VCPU:   dom.VCPUs,
		OS: domainOSXML{
			Type: domainOSTypeXML{Arch: "x86_64", Machine: "q35", Value: "hvm"},
			Boot: &bootXML{Dev: "hd"},
		},
		Devices: domainDevices{
			Disks: []diskXML{
				{
					Type:   "file",
					Device: "disk",
					Driver: &diskDriverXML{Name: "qemu", Type: "qcow2"},
					Source: &diskSourceXML{File: diskPath},
					Target: diskTargetXML{Dev: "vda", Bus: "virtio"},
				},
				{
					Type:     "file",
					Device:   "cdrom",
					Driver:   &diskDriverXML{Name: "qemu", Type: "raw"},
					Source:   &diskSourceXML{File: seedPath},
					Target:   diskTargetXML{Dev: "sda", Bus: "sata"},
					ReadOnly: &struct{}{},
				},
			},
			Interfaces: []interfaceXML{
				{
					Type:   "network",
					Source: &ifaceSourceXML{Network: dom.Network},
					Model:  &ifaceModelXML{Type: "virtio"},
				},
			},
			Serials:  []serialXML{{Type: "pty"}},
			Consoles: []consoleXML{{Type: "pty"}},
		},
	}

	body, err := marshalXML(doc)
	if err != nil {
		return fmt.Errorf("marshal domain XML: %w", err)
	}

	v.log.Info().Str("domain", dom.Name).Int("memory_mb", dom.MemoryMB).Int("vcpus", dom.VCPUs).Msg("creating domain")
	return v.withTempXML("kestrel-dom-*.xml", body, func(path string) error {
		if _, err := v.run(ctx, "define", path); err != nil {
			return fmt.Errorf("define: %w", err)
		}
		if dom.Running {
			if _, err := v.run(ctx, "start", dom.Name); err != nil {
				return fmt.Errorf("start: %w", err)
			}
		}
		if _, err := v.run(ctx, "autostart", dom.Name); err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
		return nil
	})
}

// DeleteDomain stops the domain and undefines it together with its backing
// storage. Stopping an already-stopped domain is not an error.
func (v *Virsh) DeleteDomain(ctx context.Context, name string) error {
	v.log.Info().Str("domain", name).Msg("deleting domain")
	_, _ = v.run(ctx, "destroy", name)
	if _, err := v.run(ctx, "undefine", name, "--remove-all-storage"); err != nil {
		return fmt.Errorf("undefine: %w", err)
	}
	return nil
}

// Exists probes the backend for a resource without surfacing an error.
func (v *Virsh) Exists(ctx context.Context, kind resources.Kind, name string) bool {
	switch kind {
	case resources.KindNetwork:
		return v.probe(ctx, "net-info", name)
	case resources.KindPool:
		return v.probe(ctx, "pool-info", name)
	case resources.KindDomain:
		return v.probe(ctx, "dominfo", name)
	case resources.KindVolume:
		// Volumes are scoped by pool; probe every pool.
		pools, err := v.ListPools(ctx)
		if err != nil {
			return false
		}
		for _, pool := range pools {
			if v.probe(ctx, "vol-info", "--pool", pool.Name, name) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
