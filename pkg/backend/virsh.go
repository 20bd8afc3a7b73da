package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// defaultURI is the libvirt connection URI.
	defaultURI = "qemu:///system"

	// commandTimeout bounds ordinary virsh subcommands.
	commandTimeout = 30 * time.Second

	// downloadTimeout bounds remote image downloads, which can move
	// multi-gigabyte cloud images.
	downloadTimeout = 20 * time.Minute
)

// Virsh is the default Backend implementation. It shells out to the virsh
// CLI (and cloud-localds for seed images) against a libvirt host.
type Virsh struct {
	uri             string
	commandTimeout  time.Duration
	downloadTimeout time.Duration
	httpClient      *http.Client
	log             zerolog.Logger
}

// VirshOption customizes a Virsh backend.
type VirshOption func(*Virsh)

// WithURI overrides the libvirt connection URI.
func WithURI(uri string) VirshOption {
	return func(v *Virsh) { v.uri = uri }
}

// WithCommandTimeout overrides the per-subcommand timeout.
func WithCommandTimeout(d time.Duration) VirshOption {
	return func(v *Virsh) { v.commandTimeout = d }
}

// WithDownloadTimeout overrides the remote-image download timeout.
func WithDownloadTimeout(d time.Duration) VirshOption {
	return func(v *Virsh) { v.downloadTimeout = d }
}

// NewVirsh creates a virsh-driven backend.
func NewVirsh(opts ...VirshOption) *Virsh {
	v := &Virsh{
		uri:             defaultURI,
		commandTimeout:  commandTimeout,
		downloadTimeout: downloadTimeout,
		httpClient:      http.DefaultClient,
		log:             log.With().Str("component", "backend").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// run executes a virsh subcommand under the ordinary timeout and returns its
// combined output. Non-zero exits surface as *CommandError.
func (v *Virsh) run(ctx context.Context, args ...string) (string, error) {
	return v.runTimeout(ctx, v.commandTimeout, "virsh", append([]string{"--connect", v.uri}, args...)...)
}

// runTimeout executes an arbitrary command under the given timeout.
func (v *Virsh) runTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v.log.Debug().Str("cmd", name).Strs("args", args).Msg("executing backend command")

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &CommandError{
			Cmd:      name + " " + strings.Join(args, " "),
			ExitCode: exitCode,
			Output:   string(out),
			Err:      err,
		}
	}
	return string(out), nil
}

// probe runs a virsh subcommand and reports only whether it succeeded.
func (v *Virsh) probe(ctx context.Context, args ...string) bool {
	_, err := v.run(ctx, args...)
	return err == nil
}

// withTempXML writes doc to a scoped temporary file, runs fn with its path,
// and removes the file on every exit path.
func (v *Virsh) withTempXML(pattern, doc string, fn func(path string) error) error {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return fmt.Errorf("create temp XML: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.WriteString(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp XML: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp XML: %w", err)
	}
	return fn(path)
}

// download fetches a remote image into dest under the download timeout.
func (v *Virsh) download(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, v.downloadTimeout)
	defer cancel()

	v.log.Info().Str("url", url).Msg("downloading remote image")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// listNames parses line-oriented `--name` listing output into a name slice.
func listNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}
