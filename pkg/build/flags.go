// SPDX-License-Identifier: MIT
//
// Package build manages build information embedded into the binary at
// compile time using linker flags: the application name, build timestamp,
// Git commit hash, and semantic version. Development builds that skip the
// ldflags fall back to "dev" placeholders.
package build

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Package-level variables populated by -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        "elephantlog",
		Description: "on-device infrasound acoustic event logger and classifier",
		Time:        "dev",
		Commit:      "dev",
		Version:     "dev",
	}
)

// Initialize copies build information from the ldflags variables into the
// buildFlags struct. Call early in program startup; flags the build skipped
// keep their development defaults.
func Initialize() {
	if buildName != "" {
		buildFlags.Name = buildName
	}
	if buildTime != "" {
		buildFlags.Time = buildTime
	}
	if buildCommit != "" {
		buildFlags.Commit = buildCommit
	}
	if buildVersion != "" {
		buildFlags.Version = buildVersion
	}
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
