package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shawkym/matrixsync/internal/version"
)

var (
	checkUpdate bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the current version of matrixsync and check for updates.`,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(context.Background(), cmd.OutOrStdout(), checkUpdate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&checkUpdate, "check-update", true, "Check for newer versions")
}

func printVersion(ctx context.Context, out io.Writer, check bool) {
	fmt.Fprintln(out, version.GetVersionString())
	if !check {
		return
	}

	fmt.Fprintln(out, "\n🔍 Checking for updates...")
	hasUpdate, latestVersion, err := version.CheckForUpdate(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(out, "   ⚠️  Could not check for updates: %v\n", err)
	case hasUpdate:
		fmt.Fprintf(out, "\n📦 Update available!\n")
		fmt.Fprintf(out, "   Current version: %s (out of date)\n", version.GetShortVersion())
		fmt.Fprintf(out, "   Latest version:  %s\n", latestVersion)
		fmt.Fprintf(out, "   Download from: https://github.com/shawkym/matrixsync/releases/latest\n")
	case latestVersion != "":
		fmt.Fprintf(out, "   ✅ You're running the latest version! (%s)\n", latestVersion)
	default:
		fmt.Fprintf(out, "   ℹ️  Update check unavailable at this time\n")
	}
}
