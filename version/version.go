package version

import "fmt"

const (
	Name  = "soter"
	Major = 0
	Minor = 9
	Patch = 2
)

// String returns the library version reported by the CLI and the
// verification service.
func String() string {
	return fmt.Sprintf("%s %d.%d.%d", Name, Major, Minor, Patch)
}
