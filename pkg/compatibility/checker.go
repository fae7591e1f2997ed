package compatibility

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Result is the outcome of a compatibility check
type Result struct {
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// IsCompatible compares the host API version a plugin was built against with
// the running platform's API version.
func IsCompatible(plugin, platform *semver.Version) Result {
	if plugin.Major() != platform.Major() {
		return Result{
			Reason: fmt.Sprintf("major version mismatch: plugin requires host API %s, platform provides %s",
				plugin.Original(), platform.Original()),
		}
	}

	if plugin.Minor() > platform.Minor() ||
		(plugin.Minor() == platform.Minor() && plugin.Patch() > platform.Patch()) {
		return Result{
			Reason: fmt.Sprintf("plugin targets a newer host API: plugin requires %s, platform provides %s",
				plugin.Original(), platform.Original()),
		}
	}

	return Result{Compatible: true}
}

// Check parses both versions and calls IsCompatible
func Check(plugin, platform string) (Result, error) {
	pv, err := semver.NewVersion(plugin)
	if err != nil {
		return Result{}, fmt.Errorf("invalid plugin host API version %q: %w", plugin, err)
	}
	hv, err := semver.NewVersion(platform)
	if err != nil {
		return Result{}, fmt.Errorf("invalid platform API version %q: %w", platform, err)
	}
	return IsCompatible(pv, hv), nil
}
