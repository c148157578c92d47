package main

import (
	_ "embed"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

//go:embed version.txt
var version string

// buildCommit is set via -ldflags or falls back to VCS info from debug.ReadBuildInfo.
var buildCommit string

// getBuildCommit returns the short commit hash, resolving from VCS build info if needed.
func getBuildCommit() string {
	if buildCommit != "" {
		return buildCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}

func versionString() string {
	v := strings.TrimSpace(version)
	if commit := getBuildCommit(); commit != "" {
		return v + " (" + commit + ")"
	}
	return v
}

func logBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		log.Info("build info unavailable")
		return
	}

	var revision, buildTime, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			buildTime = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}

	v := info.Main.Version
	if revision != "" {
		v = revision
	}
	if modified == "true" {
		v += " (modified)"
	}
	log.Info("build", "version", v, "go", runtime.Version(), "time", buildTime)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pairprog %s\n", versionString())
			return err
		},
	}
}
