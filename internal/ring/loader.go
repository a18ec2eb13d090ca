package ring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ringFile is the on-disk shape produced by an offline ring-builder (out of
// scope for this repo — see spec.md Non-goals). Only reading it is our
// concern.
type ringFile struct {
	PartitionBits int      `yaml:"partition_bits"`
	Seed          string   `yaml:"seed"`
	Devices       []device `yaml:"devices"`
	// Replicas[r] is the partition->device-id assignment array for replica r.
	Replicas [][]string `yaml:"replicas"`
}

type device struct {
	ID     string `yaml:"id"`
	Zone   int    `yaml:"zone"`
	IP     string `yaml:"ip"`
	Port   int    `yaml:"port"`
	Device string `yaml:"device"`
}

// Load reads and validates a ring descriptor from path. Any error here is
// meant to be fatal at process startup — the proxy never attempts to run
// without a valid ring, and it never re-reads or mutates the file
// afterwards.
func Load(path string) (*Ring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ring: read %s: %w", path, err)
	}
	var rf ringFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("ring: parse %s: %w", path, err)
	}
	if rf.Seed == "" {
		return nil, fmt.Errorf("ring: %s missing a seed", path)
	}

	devices := make([]Device, 0, len(rf.Devices))
	for _, d := range rf.Devices {
		devices = append(devices, Device{
			ID:     d.ID,
			Zone:   d.Zone,
			IP:     d.IP,
			Port:   d.Port,
			Device: d.Device,
		})
	}
	return New(rf.PartitionBits, rf.Seed, devices, rf.Replicas)
}
