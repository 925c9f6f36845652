package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner.
// Only called from subcommands that do not own stdout as an event stream.
func PrintBanner(version string) {
	banner.PrintSimple("FormRunner", version)
}
