// Package version derives the build identity stamped into startup logs,
// the health endpoint, and outbound User-Agent headers.
package version

import "runtime/debug"

// AppName identifies this binary in version strings and user agents.
const AppName = "hiveforge"

// commit can be injected for container builds where VCS metadata is
// stripped:
//
//	-ldflags "-X github.com/colonyforge/hiveforge/pkg/version.commit=<sha>"
var commit string

// Commit returns the short (8 char) VCS revision of this build. Falls
// back to "dev" when neither the ldflags override nor embedded build
// info is available, as under `go test`.
func Commit() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "hiveforge/<commit>" for logs and the health endpoint.
func Full() string {
	return AppName + "/" + Commit()
}

// UserAgent identifies outbound HTTP calls made by the sinks and LLM
// providers.
func UserAgent() string {
	return Full() + " (+https://github.com/colonyforge/hiveforge)"
}
