package version

import (
	"os/exec"
	"runtime/debug"
	"strings"
)

var (
	Version = "0.3.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Resolve returns the full version string. Release builds report Version
// as-is; source builds get a suffix from the embedded VCS revision or, when
// that is missing, from git describe.
func Resolve() string {
	return resolveVersion(Version, readBuildRevision, runGit)
}

// Revision returns the commit the binary was built from, if known.
func Revision() string {
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	if rev, _ := readBuildRevision(); rev != "" {
		return rev
	}
	return "unknown"
}

func resolveVersion(base string, buildRevision func() (string, bool), git func(...string) (string, error)) string {
	if base == "" {
		base = "0.0.0"
	}

	if Commit != "unknown" && Commit != "" {
		return base
	}

	if rev, dirty := buildRevision(); rev != "" {
		suffix := shortRevision(rev)
		if dirty {
			suffix += "-dirty"
		}
		return base + "-" + suffix
	}

	suffix := computeGitSuffix(base, git)
	if suffix == "" {
		return base
	}
	return base + "-" + suffix
}

func computeGitSuffix(base string, git func(...string) (string, error)) string {
	if _, err := git("rev-parse", "--git-dir"); err != nil {
		return ""
	}

	if _, err := git("describe", "--tags", "--exact-match"); err == nil {
		return ""
	}

	desc, err := git("describe", "--tags", "--dirty", "--always")
	if err != nil {
		return ""
	}

	prefix := "v" + base + "-"
	if strings.HasPrefix(desc, prefix) {
		return strings.TrimPrefix(desc, prefix)
	}

	return desc
}

func readBuildRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}

	var rev string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return rev, dirty
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

func runGit(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
