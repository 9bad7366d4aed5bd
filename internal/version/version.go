package version

import (
	"fmt"
	"log"
)

var (
	ShortName   = "fleetd"
	Description = "Multi-node proxy fleet dispatcher"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
)

const (
	GithubHomeText = "github.com/proxyfleet/dispatcher"
)

// PrintVersionInfo writes a short banner to vlog describing the running build.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	vlog.Printf("%s %s - %s\n", ShortName, Version, Description)

	if extendedInfo {
		vlog.Printf(" Commit: %s\n", Commit)
		vlog.Printf("  Built: %s\n", Date)
	}
}

// UserAgent returns a "name/version" product token for this build. No
// request in this module sets it as a header.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ShortName, Version)
}
