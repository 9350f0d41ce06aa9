package version

import "fmt"

// Set with -ldflags "-X paygate/internal/app/version.version=v1.2.3 -X ...commit=abc1234".
var (
	version = "dev"
	commit  = "none"
	builtAt = "unknown"
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	BuiltAt string `json:"builtAt"`
}

func Get() Info {
	return Info{Version: version, Commit: commit, BuiltAt: builtAt}
}

// String renders the build as "v1.2.3 (abc1234)", dropping the commit when unknown.
func (i Info) String() string {
	if i.Commit == "" || i.Commit == "none" {
		return i.Version
	}
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", i.Version, short)
}
