package version

import (
	"fmt"
	"log"
)

var (
	Name        = "switchboard"
	Description = "Provider switcher and latency router for local AI tools"

	// Set via -ldflags at build time
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func PrintVersionInfo(extended bool, out *log.Logger) {
	out.Printf("%s %s", Name, Version)
	if extended {
		out.Printf("  %s", Description)
		out.Printf("  commit: %s", Commit)
		out.Printf("  built:  %s", Date)
	}
}

func String() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}
