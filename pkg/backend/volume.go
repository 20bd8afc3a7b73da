package backend

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// seedCapacity is the allocation for cloud-init seed volumes; the generated
// ISO is well under 1 MiB.
const seedCapacity = 1 << 20

// ListVolumes returns all volumes of the named pool.
func (v *Virsh) ListVolumes(ctx context.Context, pool string) ([]resources.Volume, error) {
	out, err := v.run(ctx, "vol-list", "--pool", pool, "--name")
	if err != nil {
		return nil, fmt.Errorf("list volumes in %s: %w", pool, err)
	}

	volumes := make([]resources.Volume, 0)
	for _, name := range listNames(out) {
		vol, err := v.describeVolume(ctx, pool, name)
		if err != nil {
			return nil, fmt.Errorf("describe volume %s/%s: %w", pool, name, err)
		}
		volumes = append(volumes, vol)
	}
	return volumes, nil
}

func (v *Virsh) describeVolume(ctx context.Context, pool, name string) (resources.Volume, error) {
	out, err := v.run(ctx, "vol-dumpxml", "--pool", pool, name)
	if err != nil {
		return resources.Volume{}, err
	}

	var doc volumeXML
	if err := xml.Unmarshal([]byte(out), &doc); err != nil {
		return resources.Volume{}, fmt.Errorf("parse volume XML: %w", err)
	}

	vol := resources.Volume{
		Name:     doc.Name,
		Pool:     pool,
		Capacity: doc.Capacity.Value,
	}
	if doc.Target != nil && doc.Target.Format != nil {
		vol.Format = doc.Target.Format.Type
	}
	return vol, nil
}

// volumePath returns the filesystem path of a volume.
func (v *Virsh) volumePath(ctx context.Context, pool, name string) (string, error) {
	out, err := v.run(ctx, "vol-path", "--pool", pool, name)
	if err != nil {
		return "", fmt.Errorf("vol-path %s/%s: %w", pool, name, err)
	}
	names := listNames(out)
	if len(names) == 0 {
		return "", fmt.Errorf("vol-path %s/%s: empty output", pool, name)
	}
	return names[0], nil
}

// CreateVolume creates a volume in one of three mutually exclusive modes:
// a remote source URL triggers download-then-upload, a base volume name
// triggers a clone, and neither allocates a blank volume.
func (v *Virsh) CreateVolume(ctx context.Context, vol resources.Volume) error {
	switch {
	case vol.Source != "":
		return v.createVolumeFromSource(ctx, vol)
	case vol.BaseVolume != "":
		return v.cloneVolume(ctx, vol)
	default:
		return v.allocateVolume(ctx, vol)
	}
}

// allocateVolume creates a blank volume of the given capacity and format.
func (v *Virsh) allocateVolume(ctx context.Context, vol resources.Volume) error {
	capacity := vol.Capacity
	if capacity == 0 {
		capacity = seedCapacity
	}

	doc := volumeXML{
		Name:     vol.Name,
		Capacity: capacityXML{Unit: "bytes", Value: capacity},
		Target:   &volumeTargetXML{Format: &formatAttrXML{Type: vol.Format}},
	}
	body, err := marshalXML(doc)
	if err != nil {
		return fmt.Errorf("marshal volume XML: %w", err)
	}

	v.log.Info().Str("pool", vol.Pool).Str("volume", vol.Name).Msg("allocating volume")
	return v.withTempXML("kestrel-vol-*.xml", body, func(path string) error {
		if _, err := v.run(ctx, "vol-create", vol.Pool, path); err != nil {
			return fmt.Errorf("vol-create: %w", err)
		}
		return nil
	})
}

// cloneVolume clones the base volume and grows the copy to the requested
// capacity.
func (v *Virsh) cloneVolume(ctx context.Context, vol resources.Volume) error {
	v.log.Info().
		Str("pool", vol.Pool).
		Str("volume", vol.Name).
		Str("base", vol.BaseVolume).
		Msg("cloning volume")

	if _, err := v.run(ctx, "vol-clone", "--pool", vol.Pool, vol.BaseVolume, vol.Name); err != nil {
		return fmt.Errorf("vol-clone: %w", err)
	}
	if vol.Capacity > 0 {
		capacity := strconv.FormatUint(vol.Capacity, 10)
		if _, err := v.run(ctx, "vol-resize", "--pool", vol.Pool, vol.Name, capacity); err != nil {
			return fmt.Errorf("vol-resize: %w", err)
		}
	}
	return nil
}

// createVolumeFromSource downloads the remote image, allocates the volume,
// and uploads the image into it. The download temp file is removed on every
// exit path.
func (v *Virsh) createVolumeFromSource(ctx context.Context, vol resources.Volume) error {
	tmp, err := os.CreateTemp("", "kestrel-image-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := v.download(ctx, vol.Source, tmpPath); err != nil {
		return err
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return fmt.Errorf("stat downloaded image: %w", err)
	}

	capacity := vol.Capacity
	if downloaded := uint64(info.Size()); capacity < downloaded {
		capacity = downloaded
	}

	alloc := vol
	alloc.Capacity = capacity
	if err := v.allocateVolume(ctx, alloc); err != nil {
		return err
	}

	v.log.Info().Str("pool", vol.Pool).Str("volume", vol.Name).Msg("uploading image into volume")
	if _, err := v.run(ctx, "vol-upload", "--pool", vol.Pool, vol.Name, tmpPath); err != nil {
		return fmt.Errorf("vol-upload: %w", err)
	}
	return nil
}

// SeedVolume builds a cloud-init seed image from the given documents with
// cloud-localds and uploads it into an existing volume. All intermediate
// files live in a scoped temporary directory removed on every exit path.
func (v *Virsh) SeedVolume(ctx context.Context, pool, name, userData, networkConfig string) error {
	dir, err := os.MkdirTemp("", "kestrel-seed-*")
	if err != nil {
		return fmt.Errorf("create seed dir: %w", err)
	}
	defer os.RemoveAll(dir)

	userDataPath := filepath.Join(dir, "user-data")
	networkConfigPath := filepath.Join(dir, "network-config")
	isoPath := filepath.Join(dir, "seed.iso")

	if err := os.WriteFile(userDataPath, []byte(userData), 0o600); err != nil {
		return fmt.Errorf("write user-data: %w", err)
	}
	if err := os.WriteFile(networkConfigPath, []byte(networkConfig), 0o600); err != nil {
		return fmt.Errorf("write network-config: %w", err)
	}

	args := []string{isoPath, userDataPath}
	if networkConfig != "" {
		args = append(args, "--network-config", networkConfigPath)
	}
	if _, err := v.runTimeout(ctx, v.commandTimeout, "cloud-localds", args...); err != nil {
		return fmt.Errorf("cloud-localds: %w", err)
	}

	v.log.Info().Str("pool", pool).Str("volume", name).Msg("seeding cloud-init volume")
	if _, err := v.run(ctx, "vol-upload", "--pool", pool, name, isoPath); err != nil {
		return fmt.Errorf("vol-upload seed: %w", err)
	}
	return nil
}

// DeleteVolume removes a volume from a pool. Domains are undefined with
// their storage removed, so a volume already deleted alongside its domain is
// treated as success.
func (v *Virsh) DeleteVolume(ctx context.Context, pool, name string) error {
	v.log.Info().Str("pool", pool).Str("volume", name).Msg("deleting volume")
	if _, err := v.run(ctx, "vol-delete", "--pool", pool, name); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("vol-delete: %w", err)
	}
	return nil
}
