// Package backend translates typed resource descriptions into
// virtualization-host mutations. It is the only component that touches the
// host; everything above it works on the typed structs in pkg/resources.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// Backend is the adapter contract against the virtualization host. The
// default implementation drives the virsh CLI; tests substitute mocks.
// A concrete Backend is passed explicitly into the state and executor
// constructors, never resolved through global configuration.
type Backend interface {
	// ListNetworks returns all defined networks. An empty inventory is
	// success with zero elements, not an error.
	ListNetworks(ctx context.Context) ([]resources.Network, error)

	// ListPools returns all defined storage pools.
	ListPools(ctx context.Context) ([]resources.Pool, error)

	// ListVolumes returns all volumes of the named pool.
	ListVolumes(ctx context.Context, pool string) ([]resources.Volume, error)

	// ListDomains returns all defined domains.
	ListDomains(ctx context.Context) ([]resources.Domain, error)

	// CreateNetwork defines, starts, and marks autostart on a network.
	CreateNetwork(ctx context.Context, net resources.Network) error

	// CreatePool defines, builds, starts, and marks autostart on a pool.
	CreatePool(ctx context.Context, pool resources.Pool) error

	// CreateVolume creates a volume. The creation mode is chosen by the
	// volume's optional fields: Source downloads a remote image,
	// BaseVolume clones an existing volume, neither allocates blank space.
	CreateVolume(ctx context.Context, vol resources.Volume) error

	// CreateDomain defines, starts, and marks autostart on a domain.
	CreateDomain(ctx context.Context, dom resources.Domain) error

	// SeedVolume writes a cloud-init seed image built from the given
	// user-data and network-config documents into an existing volume.
	SeedVolume(ctx context.Context, pool, name, userData, networkConfig string) error

	// DeleteNetwork stops and undefines a network.
	DeleteNetwork(ctx context.Context, name string) error

	// DeletePool stops and undefines a pool.
	DeletePool(ctx context.Context, name string) error

	// DeleteVolume removes a volume from a pool. Deleting a volume that is
	// already gone is not an error.
	DeleteVolume(ctx context.Context, pool, name string) error

	// DeleteDomain stops and undefines a domain, removing its storage.
	DeleteDomain(ctx context.Context, name string) error

	// Exists is a non-erroring existence probe used by auxiliary tooling.
	Exists(ctx context.Context, kind resources.Kind, name string) bool
}

// CommandError is returned when a backend subcommand exits non-zero. It
// carries the exit code and the combined stdout/stderr text; the adapter
// never swallows a non-zero exit.
type CommandError struct {
	// Cmd is the command line that failed.
	Cmd string

	// ExitCode is the process exit code.
	ExitCode int

	// Output is the combined stdout and stderr text.
	Output string

	// Err is the underlying execution error.
	Err error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit code %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", e.Cmd, e.ExitCode, out)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a CommandError for a resource the
// backend does not know about.
func IsNotFound(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Output), "not found")
}
