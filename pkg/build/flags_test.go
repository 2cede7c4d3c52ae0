// SPDX-License-Identifier: MIT
package build

import (
	"os"
	"testing"
)

var (
	origName    string
	origTime    string
	origCommit  string
	origVersion string
	origFlags   ldFlags
)

func TestMain(m *testing.M) {
	origName = buildName
	origTime = buildTime
	origCommit = buildCommit
	origVersion = buildVersion
	origFlags = *buildFlags

	exitCode := m.Run()

	buildName = origName
	buildTime = origTime
	buildCommit = origCommit
	buildVersion = origVersion
	*buildFlags = origFlags

	os.Exit(exitCode)
}

func TestInitializeDevDefaults(t *testing.T) {
	buildName, buildTime, buildCommit, buildVersion = "", "", "", ""
	*buildFlags = ldFlags{
		Name:        "elephantlog",
		Description: "on-device infrasound acoustic event logger and classifier",
		Time:        "dev",
		Commit:      "dev",
		Version:     "dev",
	}

	Initialize()

	flags := GetBuildFlags()
	if flags.Name != "elephantlog" {
		t.Errorf("Name = %q, want development default", flags.Name)
	}
	if flags.Version != "dev" || flags.Commit != "dev" || flags.Time != "dev" {
		t.Errorf("dev defaults not preserved: %+v", *flags)
	}
}

func TestInitializeFromLdflags(t *testing.T) {
	buildName = "elephantlog"
	buildTime = "2026-08-25T00:00:00Z"
	buildCommit = "abcdef123"
	buildVersion = "v1.2.0"

	Initialize()

	flags := GetBuildFlags()
	if flags.Name != "elephantlog" {
		t.Errorf("Name = %q, want %q", flags.Name, "elephantlog")
	}
	if flags.Time != "2026-08-25T00:00:00Z" {
		t.Errorf("Time = %q, want the ldflags value", flags.Time)
	}
	if flags.Commit != "abcdef123" {
		t.Errorf("Commit = %q, want the ldflags value", flags.Commit)
	}
	if flags.Version != "v1.2.0" {
		t.Errorf("Version = %q, want the ldflags value", flags.Version)
	}
}

func TestInitializePartialLdflags(t *testing.T) {
	buildName, buildTime, buildCommit, buildVersion = "", "", "", "v2.0.0"
	*buildFlags = ldFlags{Name: "elephantlog", Time: "dev", Commit: "dev", Version: "dev"}

	Initialize()

	flags := GetBuildFlags()
	if flags.Version != "v2.0.0" {
		t.Errorf("Version = %q, want the ldflags value", flags.Version)
	}
	if flags.Commit != "dev" {
		t.Errorf("Commit = %q, want the dev default when the flag is absent", flags.Commit)
	}
}
