package backend

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestNetworkXMLMarshal(t *testing.T) {
	doc := networkXML{
		Name:    "k8s-net",
		Forward: &forwardXML{Mode: "nat"},
		Bridge:  &bridgeXML{STP: "on", Delay: "0"},
		IP: &networkIPXML{
			Address: "192.168.100.1",
			Netmask: "255.255.255.0",
			DHCP:    &dhcpXML{Range: &dhcpRangeXML{Start: "192.168.100.100", End: "192.168.100.254"}},
		},
	}

	body, err := marshalXML(doc)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"<network>",
		"<name>k8s-net</name>",
		`<forward mode="nat">`,
		`<ip address="192.168.100.1" netmask="255.255.255.0">`,
		`<range start="192.168.100.100" end="192.168.100.254">`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("network XML missing %s:\n%s", want, body)
		}
	}
	if strings.Contains(body, "<dns") {
		t.Errorf("dns element emitted without being set:\n%s", body)
	}
}

func TestNetworkXMLParseDump(t *testing.T) {
	dump := `<network>
  <name>default</name>
  <forward mode='nat'/>
  <bridge name='virbr0' stp='on' delay='0'/>
  <ip address='192.168.122.1' netmask='255.255.255.0'>
    <dhcp>
      <range start='192.168.122.2' end='192.168.122.254'/>
    </dhcp>
  </ip>
</network>`

	var doc networkXML
	if err := xml.Unmarshal([]byte(dump), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Name != "default" {
		t.Errorf("name = %s", doc.Name)
	}
	if doc.Forward == nil || doc.Forward.Mode != "nat" {
		t.Errorf("forward = %+v", doc.Forward)
	}
	if doc.IP == nil || doc.IP.DHCP == nil {
		t.Fatalf("ip/dhcp not parsed: %+v", doc.IP)
	}
	if cidrFromGateway(doc.IP.Address) != "192.168.122.0/24" {
		t.Errorf("cidr inversion failed for %s", doc.IP.Address)
	}
}

func TestDomainXMLParseDump(t *testing.T) {
	dump := `<domain type='kvm'>
  <name>master-0</name>
  <memory unit='KiB'>4194304</memory>
  <vcpu placement='static'>2</vcpu>
  <os>
    <type arch='x86_64' machine='q35'>hvm</type>
    <boot dev='hd'/>
  </os>
  <devices>
    <disk type='file' device='disk'>
      <driver name='qemu' type='qcow2'/>
      <source file='/var/lib/libvirt/demo/master-0-root'/>
      <target dev='vda' bus='virtio'/>
    </disk>
    <disk type='file' device='cdrom'>
      <driver name='qemu' type='raw'/>
      <source file='/var/lib/libvirt/demo/master-0-cloudinit'/>
      <target dev='sda' bus='sata'/>
      <readonly/>
    </disk>
    <interface type='network'>
      <mac address='52:54:00:aa:bb:cc'/>
      <source network='k8s-net'/>
      <model type='virtio'/>
    </interface>
  </devices>
</domain>`

	var doc domainXML
	if err := xml.Unmarshal([]byte(dump), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Name != "master-0" {
		t.Errorf("name = %s", doc.Name)
	}
	if got := memoryMiB(doc.Memory); got != 4096 {
		t.Errorf("memory = %d MiB", got)
	}
	if doc.VCPU != 2 {
		t.Errorf("vcpus = %d", doc.VCPU)
	}
	if len(doc.Devices.Disks) != 2 {
		t.Fatalf("disks = %d", len(doc.Devices.Disks))
	}
	if doc.Devices.Disks[1].Device != "cdrom" {
		t.Errorf("second disk device = %s", doc.Devices.Disks[1].Device)
	}
	if len(doc.Devices.Interfaces) != 1 || doc.Devices.Interfaces[0].Source.Network != "k8s-net" {
		t.Errorf("interfaces = %+v", doc.Devices.Interfaces)
	}
	if doc.Devices.Interfaces[0].MAC.Address != "52:54:00:aa:bb:cc" {
		t.Errorf("mac = %+v", doc.Devices.Interfaces[0].MAC)
	}
}

func TestMemoryMiB(t *testing.T) {
	tests := []struct {
		unit  string
		value int
		want  int
	}{
		{"KiB", 2097152, 2048},
		{"", 1048576, 1024},
		{"MiB", 4096, 4096},
		{"GiB", 2, 2048},
		{"bytes", 1073741824, 1024},
	}
	for _, tt := range tests {
		if got := memoryMiB(memoryXML{Unit: tt.unit, Value: tt.value}); got != tt.want {
			t.Errorf("memoryMiB(%d %s) = %d, want %d", tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestListNames(t *testing.T) {
	out := " k8s-net\n\n default \n"
	names := listNames(out)
	if len(names) != 2 || names[0] != "k8s-net" || names[1] != "default" {
		t.Errorf("names = %v", names)
	}
	if got := listNames("\n\n"); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}
