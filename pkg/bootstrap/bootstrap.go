// Package bootstrap turns freshly provisioned nodes into a Kubernetes
// cluster: kubeadm init on the first master, the CNI manifest applied,
// the admin kubeconfig downloaded, and kubeadm join on every remaining
// node.
package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/retry"
	"github.com/kestrelhq/kestrel/pkg/state"
	"github.com/kestrelhq/kestrel/pkg/telemetry"
)

// node is one bootstrap target.
type node struct {
	name string
	role string
	addr string
}

// Bootstrapper drives the cluster bootstrap over SSH.
type Bootstrapper struct {
	cfg *config.Config
	log *telemetry.Logger
}

// New creates a Bootstrapper.
func New(cfg *config.Config, log *telemetry.Logger) *Bootstrapper {
	return &Bootstrapper{cfg: cfg, log: log}
}

// Run bootstraps the cluster described by the desired state. All node
// addresses come from the derived state, never from DHCP leases, so the
// bootstrap is deterministic.
func (b *Bootstrapper) Run(ctx context.Context, desired state.State) error {
	signer, err := loadSigner(b.cfg.SSH.PrivateKeyPath)
	if err != nil {
		return err
	}

	nodes, err := nodesOf(desired, b.cfg.SSH.Port)
	if err != nil {
		return err
	}

	master := nodes[0]
	for _, n := range nodes {
		if err := b.waitSSH(ctx, n, signer); err != nil {
			return fmt.Errorf("node %s not reachable: %w", n.name, err)
		}
	}

	joinCmd, err := b.initMaster(ctx, master, signer)
	if err != nil {
		return fmt.Errorf("init master %s: %w", master.name, err)
	}

	for _, n := range nodes[1:] {
		if err := b.join(ctx, n, signer, joinCmd); err != nil {
			return fmt.Errorf("join %s: %w", n.name, err)
		}
	}

	b.log.Infof("cluster bootstrap complete: %d nodes", len(nodes))
	return nil
}

// nodesOf extracts the bootstrap targets from the desired state, masters
// first, each ordered by index.
func nodesOf(desired state.State, port int) ([]node, error) {
	var nodes []node
	for _, d := range desired.Domains {
		role, _, ok := state.ParseNodeName(d.Name)
		if !ok {
			continue
		}
		if d.IPAddress == "" {
			return nil, fmt.Errorf("node %s has no address", d.Name)
		}
		nodes = append(nodes, node{
			name: d.Name,
			role: role,
			addr: fmt.Sprintf("%s:%d", d.IPAddress, port),
		})
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes in desired state")
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].role != nodes[j].role {
			return nodes[i].role == state.RoleMaster
		}
		return nodes[i].name < nodes[j].name
	})
	if nodes[0].role != state.RoleMaster {
		return nil, fmt.Errorf("no master node in desired state")
	}
	return nodes, nil
}

// waitSSH blocks until the node accepts SSH connections or the node
// timeout elapses. Cloud-init runs on first boot, so the first
// connection can take minutes.
func (b *Bootstrapper) waitSSH(ctx context.Context, n node, signer ssh.Signer) error {
	nlog := b.log.WithField("node", n.name)
	nlog.Infof("waiting for SSH on %s", n.addr)

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.Bootstrap.NodeTimeout)
	defer cancel()

	attempts := int(b.cfg.Bootstrap.NodeTimeout/(5*time.Second)) + 1
	return retry.Do(waitCtx, attempts, 5*time.Second, func(ctx context.Context) error {
		c, err := dial(ctx, n.addr, b.cfg.SSH.User, signer)
		if err != nil {
			return err
		}
		defer c.close()

		// Readiness means cloud-init finished, not just sshd up.
		_, err = c.run("cloud-init status --wait")
		return err
	})
}

// initMaster runs kubeadm init on the first master, applies the CNI
// manifest, downloads the admin kubeconfig, and returns the join command
// for the remaining nodes.
func (b *Bootstrapper) initMaster(ctx context.Context, master node, signer ssh.Signer) (string, error) {
	c, err := dial(ctx, master.addr, b.cfg.SSH.User, signer)
	if err != nil {
		return "", err
	}
	defer c.close()

	mlog := b.log.WithField("node", master.name)
	mlog.Info("running kubeadm init")

	initCmd := fmt.Sprintf(
		"sudo kubeadm init --pod-network-cidr=%s --service-cidr=%s --node-name=%s",
		b.cfg.Kubernetes.PodCIDR,
		b.cfg.Kubernetes.ServiceCIDR,
		master.name,
	)
	if b.cfg.Kubernetes.Version != "" {
		initCmd += " --kubernetes-version=" + b.cfg.Kubernetes.Version
	}
	if _, err := c.run(initCmd); err != nil {
		return "", err
	}

	if b.cfg.Kubernetes.CNIManifest != "" {
		mlog.Infof("applying CNI manifest %s", b.cfg.Kubernetes.CNIManifest)
		applyCmd := fmt.Sprintf(
			"sudo KUBECONFIG=/etc/kubernetes/admin.conf kubectl apply -f %s",
			b.cfg.Kubernetes.CNIManifest,
		)
		if _, err := c.run(applyCmd); err != nil {
			return "", fmt.Errorf("apply CNI manifest: %w", err)
		}
	}

	// The root-owned admin.conf is unreadable over SFTP as a plain
	// user; stage a readable copy first.
	stage := fmt.Sprintf("sudo cp /etc/kubernetes/admin.conf /tmp/admin.conf && sudo chown %s /tmp/admin.conf", b.cfg.SSH.User)
	if _, err := c.run(stage); err != nil {
		return "", fmt.Errorf("stage kubeconfig: %w", err)
	}
	if err := c.download("/tmp/admin.conf", b.cfg.Kubernetes.KubeconfigPath); err != nil {
		return "", fmt.Errorf("download kubeconfig: %w", err)
	}
	if _, err := c.run("rm -f /tmp/admin.conf"); err != nil {
		mlog.WithError(err).Warn("failed to remove staged kubeconfig")
	}
	mlog.Infof("kubeconfig written to %s", b.cfg.Kubernetes.KubeconfigPath)

	out, err := c.run("sudo kubeadm token create --print-join-command")
	if err != nil {
		return "", fmt.Errorf("create join token: %w", err)
	}
	joinCmd := strings.TrimSpace(out)
	if joinCmd == "" {
		return "", fmt.Errorf("empty join command from %s", master.name)
	}
	return joinCmd, nil
}

// join runs the kubeadm join command on one node. Additional masters
// join as control-plane members.
func (b *Bootstrapper) join(ctx context.Context, n node, signer ssh.Signer, joinCmd string) error {
	c, err := dial(ctx, n.addr, b.cfg.SSH.User, signer)
	if err != nil {
		return err
	}
	defer c.close()

	cmd := fmt.Sprintf("sudo %s --node-name=%s", joinCmd, n.name)
	if n.role == state.RoleMaster {
		cmd += " --control-plane"
	}

	b.log.WithField("node", n.name).Info("running kubeadm join")
	_, err = c.run(cmd)
	return err
}
