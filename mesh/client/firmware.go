package client

import (
	"fmt"
	"github.com/Masterminds/semver/v3"
	"strings"
)

// parseFirmwareVersion parses firmware versions as reported by the device.
// Release builds append the commit hash as a fourth component
// ("2.3.2.63df972"), which is cut off before parsing.
func parseFirmwareVersion(v string) (*semver.Version, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if parts := strings.SplitN(v, ".", 4); len(parts) == 4 {
		v = strings.Join(parts[:3], ".")
	}
	return semver.NewVersion(v)
}

// checkFirmware reports whether firmware satisfies the minimum version.
// An empty minimum always passes.
func checkFirmware(minimum, firmware string) (bool, error) {
	if minimum == "" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return false, fmt.Errorf("invalid minimum firmware version %q: %w", minimum, err)
	}
	if firmware == "" {
		return false, fmt.Errorf("device did not report a firmware version")
	}
	v, err := parseFirmwareVersion(firmware)
	if err != nil {
		return false, fmt.Errorf("invalid firmware version %q: %w", firmware, err)
	}
	return constraint.Check(v), nil
}
