package version

import "fmt"

// Set at build time with -ldflags "-X github.com/ggonzalez94/sendflow/internal/version.Commit=...".
var (
	CLIName    = "sendflow"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}
