package main

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"ccflow/internal/shared/config"
)

var (
	versionOnce   sync.Once
	cachedVersion string
)

// appVersion returns the best-effort version of the ccflow binary.
// The lookup order is:
//  1. Explicit CCFLOW_VERSION environment variable
//  2. Go build information (module version or VCS revision)
//  3. A development fallback string
func appVersion() string {
	versionOnce.Do(func() {
		cachedVersion = detectVersion(config.DefaultEnvLookup, debug.ReadBuildInfo)
	})
	return cachedVersion
}

func detectVersion(lookup config.EnvLookup, readBuildInfo func() (*debug.BuildInfo, bool)) string {
	if v, ok := lookup("CCFLOW_VERSION"); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}

	if info, ok := readBuildInfo(); ok && info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				revision := setting.Value
				if len(revision) > 12 {
					revision = revision[:12]
				}
				return fmt.Sprintf("dev-%s", revision)
			}
		}
	}
	return "development"
}
