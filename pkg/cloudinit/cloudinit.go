// Package cloudinit renders the user-data and network-config documents
// baked into each node's seed volume. Rendering is deterministic: the
// same node always produces the same payload.
package cloudinit

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/kestrelhq/kestrel/pkg/backend"
)

// Payload holds the two cloud-init documents for one node.
type Payload struct {
	// UserData is the #cloud-config document.
	UserData string `json:"user_data"`

	// NetworkConfig is the network-config v2 document.
	NetworkConfig string `json:"network_config"`
}

const userDataTemplate = `#cloud-config
hostname: {{ .Hostname }}
fqdn: {{ .Hostname }}
manage_etc_hosts: true
users:
  - name: {{ .User }}
    sudo: ALL=(ALL) NOPASSWD:ALL
    shell: /bin/bash
    lock_passwd: true
    ssh_authorized_keys:
      - {{ .AuthorizedKey }}
package_update: true
packages:
  - qemu-guest-agent
runcmd:
  - systemctl enable --now qemu-guest-agent
  - swapoff -a
  - sed -i '/ swap / s/^/#/' /etc/fstab
`

const networkConfigTemplate = `version: 2
ethernets:
  eth0:
    dhcp4: false
    addresses:
      - {{ .Address }}/24
    gateway4: {{ .Gateway }}
    nameservers:
      addresses:
        - {{ .Gateway }}
        - 8.8.8.8
`

// Renderer renders node payloads from cluster-wide settings.
type Renderer struct {
	user          string
	authorizedKey string
	networkCIDR   string

	userData      *template.Template
	networkConfig *template.Template
}

// NewRenderer builds a renderer for the given SSH user, public key, and
// network CIDR. The CIDR determines each node's gateway address.
func NewRenderer(user, authorizedKey, networkCIDR string) (*Renderer, error) {
	ud, err := template.New("user-data").Parse(userDataTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse user-data template: %w", err)
	}
	nc, err := template.New("network-config").Parse(networkConfigTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse network-config template: %w", err)
	}
	return &Renderer{
		user:          user,
		authorizedKey: authorizedKey,
		networkCIDR:   networkCIDR,
		userData:      ud,
		networkConfig: nc,
	}, nil
}

// Render produces the payload for one node.
func (r *Renderer) Render(hostname, ipAddress string) (*Payload, error) {
	gateway, err := backend.GatewayForCIDR(r.networkCIDR)
	if err != nil {
		return nil, fmt.Errorf("derive gateway: %w", err)
	}

	var ud bytes.Buffer
	err = r.userData.Execute(&ud, struct {
		Hostname      string
		User          string
		AuthorizedKey string
	}{hostname, r.user, r.authorizedKey})
	if err != nil {
		return nil, fmt.Errorf("render user-data: %w", err)
	}

	var nc bytes.Buffer
	err = r.networkConfig.Execute(&nc, struct {
		Address string
		Gateway string
	}{ipAddress, gateway})
	if err != nil {
		return nil, fmt.Errorf("render network-config: %w", err)
	}

	return &Payload{UserData: ud.String(), NetworkConfig: nc.String()}, nil
}
