package murk

import (
	"fmt"
	"runtime"

	"golang.org/x/mod/semver"
)

// BuildMetadata is the header a replay log (an external collaborator, §6.6)
// records alongside a run: toolchain version, target ISA, and any
// non-default build flags. It exists so a replay can flag itself as
// potentially non-bit-identical when ISA-dependent floating point behaviour
// might differ, rather than silently trusting a mismatched build.
type BuildMetadata struct {
	ToolchainVersion string
	ISA              string
	Flags            []string
}

// CurrentBuildMetadata builds the header from the caller-supplied semver
// build version, the running process's ISA (runtime.GOARCH), and flags.
func CurrentBuildMetadata(version string, flags ...string) (BuildMetadata, error) {
	if !semver.IsValid(version) {
		return BuildMetadata{}, fmt.Errorf("%w: %q is not a valid semver build version", ErrInvalidConfig, version)
	}
	return BuildMetadata{
		ToolchainVersion: version,
		ISA:              runtime.GOARCH,
		Flags:            append([]string(nil), flags...),
	}, nil
}

// Compatible reports whether a (older or equal) is a replay-safe
// predecessor of b under semver precedence — a replay recorded under a
// lower-or-equal MAJOR.MINOR is assumed float-compatible; a MAJOR bump is
// not. Both must also target the same ISA.
func (a BuildMetadata) Compatible(b BuildMetadata) bool {
	if semver.Major(a.ToolchainVersion) != semver.Major(b.ToolchainVersion) {
		return false
	}
	if semver.Compare(semver.MajorMinor(a.ToolchainVersion), semver.MajorMinor(b.ToolchainVersion)) > 0 {
		return false
	}
	return a.ISA == b.ISA
}
