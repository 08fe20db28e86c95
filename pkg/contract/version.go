package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const versionLogPrefix = "contract:version"

// InitialVersion is assigned to the first recorded contract.
const InitialVersion = "1.0.0"

// NextVersion bumps current for a changed artifact: major when any change
// is breaking, minor for additive changes, patch when the artifact differs
// but no signature does (descriptions only). An empty current yields
// InitialVersion.
func NextVersion(current string, changes []Change) (string, error) {
	if current == "" {
		return InitialVersion, nil
	}
	v, err := masterminds.NewVersion(current)
	if err != nil {
		return "", fmt.Errorf("%s - invalid version %q: %w", versionLogPrefix, current, err)
	}
	switch {
	case len(changes) == 0:
		return v.IncPatch().String(), nil
	case Breaking(changes):
		return v.IncMajor().String(), nil
	default:
		return v.IncMinor().String(), nil
	}
}

// Satisfies reports whether version meets a consumer's constraint, such as
// "^1.2" or ">= 1.0, < 3". An empty constraint accepts any version.
func Satisfies(version, constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("%s - invalid version %q: %w", versionLogPrefix, version, err)
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", versionLogPrefix, constraint, err)
	}
	return c.Check(v), nil
}

// Hash fingerprints an export artifact.
func Hash(artifact []byte) string {
	sum := sha256.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}
