// Package config loads and validates the declarative cluster configuration.
// The loaded Config is the sole input to desired-state derivation; it is
// validated before any state is constructed so configuration mistakes never
// reach the planner.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full declarative configuration.
type Config struct {
	// Cluster holds cluster-wide settings.
	Cluster ClusterConfig `yaml:"cluster" validate:"required"`

	// Network declares the virtual network the nodes attach to.
	Network NetworkConfig `yaml:"network" validate:"required"`

	// Storage declares the storage pool and the base image.
	Storage StorageConfig `yaml:"storage" validate:"required"`

	// Nodes declares the master and worker node groups.
	Nodes NodesConfig `yaml:"nodes" validate:"required"`

	// SSH configures node access for the Kubernetes bootstrap.
	SSH SSHConfig `yaml:"ssh" validate:"required"`

	// Kubernetes configures the cluster bootstrap. Optional; defaults apply.
	Kubernetes KubernetesConfig `yaml:"kubernetes"`

	// Bootstrap configures bootstrap behavior. Optional; defaults apply.
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Telemetry configures logging, metrics, and tracing. Optional.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Journal configures the optional run journal. Optional.
	Journal JournalConfig `yaml:"journal"`
}

// ClusterConfig holds cluster-wide settings.
type ClusterConfig struct {
	// Name is the cluster name, used for the base volume name.
	Name string `yaml:"name" validate:"required,hostname_rfc1123"`
}

// NetworkConfig declares the virtual network.
type NetworkConfig struct {
	// Name is the network name.
	Name string `yaml:"name" validate:"required"`

	// CIDR is the network address block.
	CIDR string `yaml:"cidr" validate:"required,cidrv4"`

	// Mode is the forwarding mode. Defaults to nat.
	Mode string `yaml:"mode" validate:"omitempty,oneof=nat route bridge"`
}

// StorageConfig declares the storage pool and the base image.
type StorageConfig struct {
	// Pool is the storage pool name.
	Pool string `yaml:"pool" validate:"required"`

	// Path is the filesystem path backing the pool.
	Path string `yaml:"path" validate:"required,dirpath|filepath"`

	// Image describes the base cloud image every node root disk clones.
	Image ImageConfig `yaml:"image" validate:"required"`
}

// ImageConfig describes the base cloud image.
type ImageConfig struct {
	// Name is the base volume name. Defaults to "<cluster>-base".
	Name string `yaml:"name"`

	// URL is the remote image source.
	URL string `yaml:"url" validate:"required,url"`

	// Format is the image format. Defaults to qcow2.
	Format string `yaml:"format" validate:"omitempty,oneof=qcow2 raw"`
}

// NodesConfig declares the node groups.
type NodesConfig struct {
	// Masters is the control-plane node group.
	Masters NodeGroupConfig `yaml:"masters" validate:"required"`

	// Workers is the worker node group.
	Workers NodeGroupConfig `yaml:"workers" validate:"required"`
}

// NodeGroupConfig declares one node group. Node names are synthesized as
// {role}-{index} and addresses assigned sequentially from IPStart; both are
// deterministic so repeated derivations agree across runs.
type NodeGroupConfig struct {
	// Count is the number of nodes in the group.
	Count int `yaml:"count" validate:"min=0"`

	// MemoryMB is the memory per node in MiB.
	MemoryMB int `yaml:"memory_mb" validate:"required,min=512"`

	// VCPUs is the vCPU count per node.
	VCPUs int `yaml:"vcpus" validate:"required,min=1"`

	// DiskGB is the root disk size per node in GiB.
	DiskGB int `yaml:"disk_gb" validate:"required,min=1"`

	// IPStart is the address of the group's first node; subsequent nodes
	// increment the final octet.
	IPStart string `yaml:"ip_start" validate:"required,ipv4"`
}

// SSHConfig configures node access.
type SSHConfig struct {
	// User is the login user provisioned through cloud-init.
	User string `yaml:"user" validate:"required"`

	// PrivateKeyPath is the key used by the bootstrap to reach nodes.
	PrivateKeyPath string `yaml:"private_key" validate:"required"`

	// AuthorizedKey is the public key installed on every node.
	AuthorizedKey string `yaml:"authorized_key" validate:"required"`

	// Port is the SSH port. Defaults to 22.
	Port int `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// KubernetesConfig configures the cluster bootstrap.
type KubernetesConfig struct {
	// Version is the Kubernetes version to install.
	Version string `yaml:"version"`

	// PodCIDR is the pod network block. Defaults to 10.244.0.0/16.
	PodCIDR string `yaml:"pod_cidr" validate:"omitempty,cidrv4"`

	// ServiceCIDR is the service network block. Defaults to 10.96.0.0/12.
	ServiceCIDR string `yaml:"service_cidr" validate:"omitempty,cidrv4"`

	// CNIManifest is the URL of the CNI manifest applied after init.
	CNIManifest string `yaml:"cni_manifest" validate:"omitempty,url"`

	// KubeconfigPath is where the admin kubeconfig is downloaded to.
	KubeconfigPath string `yaml:"kubeconfig_path"`
}

// BootstrapConfig configures bootstrap behavior.
type BootstrapConfig struct {
	// Enabled runs the Kubernetes bootstrap after a successful apply.
	Enabled bool `yaml:"enabled"`

	// NodeTimeout bounds the wait for each node to become reachable.
	NodeTimeout time.Duration `yaml:"node_timeout"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	// LogLevel sets the minimum log level. Defaults to info.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`

	// MetricsListen is the optional Prometheus listen address; empty
	// disables the metrics endpoint.
	MetricsListen string `yaml:"metrics_listen"`

	// Tracing enables OpenTelemetry spans exported to stdout.
	Tracing bool `yaml:"tracing"`
}

// JournalConfig configures the optional SQLite run journal.
type JournalConfig struct {
	// Path is the journal database path; empty disables the journal.
	Path string `yaml:"path"`
}

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	// Field is the offending field path.
	Field string

	// Rule is the validation rule that failed.
	Rule string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %s violates rule %q", e.Field, e.Rule)
}

// Load reads, decodes, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills the documented defaults for omitted optional fields.
func (c *Config) ApplyDefaults() {
	if c.Network.Mode == "" {
		c.Network.Mode = "nat"
	}
	if c.Storage.Image.Name == "" && c.Cluster.Name != "" {
		c.Storage.Image.Name = c.Cluster.Name + "-base"
	}
	if c.Storage.Image.Format == "" {
		c.Storage.Image.Format = "qcow2"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.Kubernetes.PodCIDR == "" {
		c.Kubernetes.PodCIDR = "10.244.0.0/16"
	}
	if c.Kubernetes.ServiceCIDR == "" {
		c.Kubernetes.ServiceCIDR = "10.96.0.0/12"
	}
	if c.Kubernetes.KubeconfigPath == "" {
		c.Kubernetes.KubeconfigPath = "admin.conf"
	}
	if c.Bootstrap.NodeTimeout == 0 {
		c.Bootstrap.NodeTimeout = 5 * time.Minute
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = "info"
	}
}

// Validate checks the configuration against its declared rules plus the
// cross-field constraints the tag language cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Namespace(), Rule: verrs[0].Tag()}
		}
		return err
	}

	if c.Nodes.Masters.Count < 1 {
		return &ValidationError{Field: "Config.Nodes.Masters.Count", Rule: "min=1"}
	}

	// The node addresses must live inside the declared network block.
	_, block, err := net.ParseCIDR(c.Network.CIDR)
	if err != nil {
		return &ValidationError{Field: "Config.Network.CIDR", Rule: "cidrv4"}
	}
	for _, group := range []struct {
		name string
		cfg  NodeGroupConfig
	}{
		{"masters", c.Nodes.Masters},
		{"workers", c.Nodes.Workers},
	} {
		if group.cfg.Count == 0 {
			continue
		}
		if ip := net.ParseIP(group.cfg.IPStart); ip == nil || !block.Contains(ip) {
			return &ValidationError{
				Field: fmt.Sprintf("Config.Nodes.%s.IPStart", group.name),
				Rule:  "within network.cidr",
			}
		}
	}
	return nil
}
