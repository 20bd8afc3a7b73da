package backend

import "encoding/xml"

// The XML documents below mirror the backend's native description schema.
// They are marshalled for define calls and unmarshalled from dumpxml output,
// so field names and attribute spellings are a compatibility requirement.

type networkXML struct {
	XMLName xml.Name       `xml:"network"`
	Name    string         `xml:"name"`
	Forward *forwardXML    `xml:"forward,omitempty"`
	Bridge  *bridgeXML     `xml:"bridge,omitempty"`
	DNS     *networkDNSXML `xml:"dns,omitempty"`
	IP      *networkIPXML  `xml:"ip,omitempty"`
}

type forwardXML struct {
	Mode string `xml:"mode,attr"`
}

type bridgeXML struct {
	Name  string `xml:"name,attr,omitempty"`
	STP   string `xml:"stp,attr,omitempty"`
	Delay string `xml:"delay,attr,omitempty"`
}

type networkDNSXML struct {
	Enable string `xml:"enable,attr,omitempty"`
}

type networkIPXML struct {
	Address string   `xml:"address,attr"`
	Netmask string   `xml:"netmask,attr"`
	DHCP    *dhcpXML `xml:"dhcp,omitempty"`
}

type dhcpXML struct {
	Range *dhcpRangeXML `xml:"range,omitempty"`
}

type dhcpRangeXML struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
}

type poolXML struct {
	XMLName  xml.Name       `xml:"pool"`
	Type     string         `xml:"type,attr"`
	Name     string         `xml:"name"`
	Capacity uint64         `xml:"capacity,omitempty"`
	Target   *poolTargetXML `xml:"target,omitempty"`
}

type poolTargetXML struct {
	Path string `xml:"path"`
}

type volumeXML struct {
	XMLName  xml.Name         `xml:"volume"`
	Name     string           `xml:"name"`
	Capacity capacityXML      `xml:"capacity"`
	Target   *volumeTargetXML `xml:"target,omitempty"`
}

type capacityXML struct {
	Unit  string `xml:"unit,attr,omitempty"`
	Value uint64 `xml:",chardata"`
}

type volumeTargetXML struct {
	Path   string         `xml:"path,omitempty"`
	Format *formatAttrXML `xml:"format,omitempty"`
}

type formatAttrXML struct {
	Type string `xml:"type,attr"`
}

type domainXML struct {
	XMLName xml.Name      `xml:"domain"`
	Type    string        `xml:"type,attr"`
	Name    string        `xml:"name"`
	Memory  memoryXML     `xml:"memory"`
	VCPU    int           `xml:"vcpu"`
	OS      domainOSXML   `xml:"os"`
	Devices domainDevices `xml:"devices"`
}

type memoryXML struct {
	Unit  string `xml:"unit,attr"`
	Value int    `xml:",chardata"`
}

type domainOSXML struct {
	Type domainOSTypeXML `xml:"type"`
	Boot *bootXML        `xml:"boot,omitempty"`
}

type domainOSTypeXML struct {
	Arch    string `xml:"arch,attr,omitempty"`
	Machine string `xml:"machine,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type bootXML struct {
	Dev string `xml:"dev,attr"`
}

type domainDevices struct {
	Disks      []diskXML      `xml:"disk"`
	Interfaces []interfaceXML `xml:"interface"`
	Serials    []serialXML    `xml:"serial"`
	Consoles   []consoleXML   `xml:"console"`
}

type diskXML struct {
	Type     string         `xml:"type,attr"`
	Device   string         `xml:"device,attr"`
	Driver   *diskDriverXML `xml:"driver,omitempty"`
	Source   *diskSourceXML `xml:"source,omitempty"`
	Target   diskTargetXML  `xml:"target"`
	ReadOnly *struct{}      `xml:"readonly,omitempty"`
}

type diskDriverXML struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type diskSourceXML struct {
	File string `xml:"file,attr,omitempty"`
}

type diskTargetXML struct {
	Dev string `xml:"dev,attr"`
	Bus string `xml:"bus,attr,omitempty"`
}

type interfaceXML struct {
	Type   string            `xml:"type,attr"`
	Source *ifaceSourceXML   `xml:"source,omitempty"`
	MAC    *ifaceMACXML      `xml:"mac,omitempty"`
	Model  *ifaceModelXML    `xml:"model,omitempty"`
}

type ifaceSourceXML struct {
	Network string `xml:"network,attr,omitempty"`
}

type ifaceMACXML struct {
	Address string `xml:"address,attr"`
}

type ifaceModelXML struct {
	Type string `xml:"type,attr"`
}

type serialXML struct {
	Type string `xml:"type,attr"`
}

type consoleXML struct {
	Type string `xml:"type,attr"`
}

// marshalXML renders a document with the standard header.
func marshalXML(doc any) (string, error) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(out) + "\n", nil
}
