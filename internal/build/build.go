package build

import "runtime/debug"

// Version is taken from the module build info, or overridden at link time
// with -ldflags "-X".
var Version = "DEV"

// Date is empty unless set at link time with -ldflags "-X".
var Date = "" // YYYY-MM-DD

func init() {
	if Version == "DEV" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
			Version = info.Main.Version
		}
	}
}
