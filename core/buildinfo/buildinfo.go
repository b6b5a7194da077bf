// Package buildinfo carries version data stamped into the binary by the linker:
//
//	-X 'github.com/m3rciful/botstarter/core/buildinfo.Version=v1.2.3'
//	-X 'github.com/m3rciful/botstarter/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/botstarter/core/buildinfo.Date=2025-08-30T12:00:00Z'
package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "local"
	// Date is the build timestamp in RFC3339 format.
	Date = ""
)

// Info is the build metadata reported at startup and by the version command.
type Info struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Get returns the stamped build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, Date: Date, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	s := fmt.Sprintf("%s (%s, %s)", i.Version, i.Commit, i.GoVersion)
	if i.Date != "" {
		s += " built " + i.Date
	}
	return s
}
