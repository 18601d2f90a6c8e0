package dogu

import (
	"fmt"
	"strconv"
	"strings"
)

// normalizeVersion strips a leading "v" and checks the result is
// semver-like (at least MAJOR.MINOR, optional patch, prerelease, build
// metadata). Dev builds and junk return ("", false): not comparable.
func normalizeVersion(v string) (string, bool) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" || trimmed == "dev" || trimmed == "0.0.0-dev" {
		return "", false
	}

	normalized := strings.TrimPrefix(trimmed, "v")
	parts := strings.Split(normalized, ".")
	if len(parts) < 2 {
		return "", false
	}
	for i := 0; i < 2; i++ {
		if _, err := strconv.Atoi(parts[i]); err != nil {
			return "", false
		}
	}
	if len(parts) >= 3 {
		patch := parts[2]
		if idx := strings.IndexAny(patch, "-+"); idx >= 0 {
			patch = patch[:idx]
		}
		if patch != "" {
			if _, err := strconv.Atoi(patch); err != nil {
				return "", false
			}
		}
	}
	return normalized, true
}

type semverParts struct {
	major, minor, patch int
	prerelease          []string
}

func parseSemver(normalized string) (semverParts, error) {
	var out semverParts

	base := normalized
	if idx := strings.IndexByte(base, '+'); idx >= 0 {
		base = base[:idx]
	}
	var prerelease string
	if idx := strings.IndexByte(base, '-'); idx >= 0 {
		prerelease = base[idx+1:]
		base = base[:idx]
	}

	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return semverParts{}, fmt.Errorf("invalid version format %q", normalized)
	}
	var err error
	out.major, err = strconv.Atoi(parts[0])
	if err != nil {
		return semverParts{}, fmt.Errorf("parse major %q: %w", parts[0], err)
	}
	out.minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return semverParts{}, fmt.Errorf("parse minor %q: %w", parts[1], err)
	}
	if len(parts) >= 3 && parts[2] != "" {
		out.patch, err = strconv.Atoi(parts[2])
		if err != nil {
			return semverParts{}, fmt.Errorf("parse patch %q: %w", parts[2], err)
		}
	}
	if prerelease != "" {
		out.prerelease = strings.Split(prerelease, ".")
	}
	return out, nil
}

// comparePrerelease orders prerelease identifier lists per semver: no
// prerelease sorts after any prerelease, numeric identifiers before
// alphanumeric ones.
func comparePrerelease(a, b []string) int {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) == 0 {
		return 1
	}
	if len(b) == 0 {
		return -1
	}

	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai, bi := a[i], b[i]
		aNum, aErr := strconv.Atoi(ai)
		bNum, bErr := strconv.Atoi(bi)
		aIsNum := aErr == nil
		bIsNum := bErr == nil

		switch {
		case aIsNum && bIsNum:
			if aNum < bNum {
				return -1
			}
			if aNum > bNum {
				return 1
			}
		case aIsNum && !bIsNum:
			return -1
		case !aIsNum && bIsNum:
			return 1
		default:
			if ai < bi {
				return -1
			}
			if ai > bi {
				return 1
			}
		}
	}

	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}

// compareVersions compares two normalized versions: -1 if a < b, 0 if
// equal, 1 if a > b. Build metadata is ignored.
func compareVersions(a, b string) (int, error) {
	av, err := parseSemver(a)
	if err != nil {
		return 0, err
	}
	bv, err := parseSemver(b)
	if err != nil {
		return 0, err
	}

	switch {
	case av.major != bv.major:
		if av.major < bv.major {
			return -1, nil
		}
		return 1, nil
	case av.minor != bv.minor:
		if av.minor < bv.minor {
			return -1, nil
		}
		return 1, nil
	case av.patch != bv.patch:
		if av.patch < bv.patch {
			return -1, nil
		}
		return 1, nil
	}
	return comparePrerelease(av.prerelease, bv.prerelease), nil
}

// vDisplay adds the "v" prefix for display unless the value already has
// one or is a dev marker.
func vDisplay(v string) string {
	if v == "" || v == "dev" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

type updateDecision int

const (
	updateSkip updateDecision = iota
	updateProceed
	updateReinstall
)

// decideSelfUpdate compares the running version against the published
// target. Incomparable versions never block: a dev build always installs
// the release, and parse trouble falls through to a verified install.
func decideSelfUpdate(current, target string, force bool) (updateDecision, string) {
	currentNorm, currentOK := normalizeVersion(current)
	targetNorm, targetOK := normalizeVersion(target)

	if !currentOK {
		return updateProceed, fmt.Sprintf("Installing dogu %s (replacing dev build)", vDisplay(target))
	}
	if !targetOK {
		return updateProceed, fmt.Sprintf("Version comparison skipped (target %q); installing anyway", target)
	}

	cmp, err := compareVersions(currentNorm, targetNorm)
	if err != nil {
		return updateProceed, fmt.Sprintf("Version comparison failed (%v); installing anyway", err)
	}

	switch {
	case cmp == 0 && force:
		return updateReinstall, fmt.Sprintf("Reinstalling dogu %s", vDisplay(targetNorm))
	case cmp == 0:
		return updateSkip, fmt.Sprintf("Already at the latest version (%s)", vDisplay(targetNorm))
	case cmp > 0 && !force:
		return updateSkip, fmt.Sprintf("Running version %s is newer than the published %s", vDisplay(currentNorm), vDisplay(targetNorm))
	case cmp > 0:
		return updateProceed, fmt.Sprintf("Downgrading dogu: %s -> %s", vDisplay(currentNorm), vDisplay(targetNorm))
	default:
		return updateProceed, fmt.Sprintf("Updating dogu: %s -> %s", vDisplay(currentNorm), vDisplay(targetNorm))
	}
}
