package version

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Version holds the current build version. Override with
// -ldflags "-X github.com/audiodock/internal/version.Version=v1.2.3".
var Version = "dev"

const (
	separator = "────────────────────────────────────────────────────────────"
	banner    = `
                  _ _           _            _
   __ _ _   _  __| (_) ___   __| | ___   ___| | __
  / _' | | | |/ _' | |/ _ \ / _' |/ _ \ / __| |/ /
 | (_| | |_| | (_| | | (_) | (_| | (_) | (__|   <
  \__,_|\__,_|\__,_|_|\___/ \__,_|\___/ \___|_|\_\
`
)

// Banner returns the ASCII-art project banner.
func Banner() string {
	return strings.Trim(banner, "\n")
}

// PrintBanner writes the decorated banner and version info to w (stdout if nil).
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, Banner())
	fmt.Fprintf(w, "\n  audiodock %s\n", Version)
	fmt.Fprintf(w, "  Audio Download Queue Service\n")
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w)
}
