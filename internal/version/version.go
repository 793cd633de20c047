package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// Version is the current version of matrixsync
	// This will be set at build time using -ldflags
	Version = "dev"

	// CommitHash is the git commit hash
	CommitHash = "unknown"

	// BuildDate is the build date
	BuildDate = "unknown"
)

// ReleasesAPI is the GitHub endpoint queried by CheckForUpdate.
var ReleasesAPI = "https://api.github.com/repos/shawkym/matrixsync/releases/latest"

// GitHubRelease represents a GitHub release
type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// CheckForUpdate reports whether a newer release than Version exists,
// along with its tag. Dev builds never check.
func CheckForUpdate(ctx context.Context) (bool, string, error) {
	if Version == "dev" || Version == "" || strings.Contains(Version, "dirty") {
		return false, "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleasesAPI, nil)
	if err != nil {
		return false, "", err
	}
	req.Header.Set("User-Agent", "matrixsync/"+Version)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("failed to check for updates: %w", err)
	}
	defer resp.Body.Close()

	// Rate limits and other API errors are not worth reporting.
	if resp.StatusCode != http.StatusOK {
		return false, "", nil
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return false, "", fmt.Errorf("failed to parse release info: %w", err)
	}

	return compareVersions(release.TagName, Version) > 0, release.TagName, nil
}

// compareVersions compares two semantic versions
// Returns: 1 if v1 > v2, -1 if v1 < v2, 0 if equal
func compareVersions(v1, v2 string) int {
	parts1 := versionParts(v1)
	parts2 := versionParts(v2)

	for i := 0; i < 3; i++ {
		if parts1[i] > parts2[i] {
			return 1
		}
		if parts1[i] < parts2[i] {
			return -1
		}
	}
	return 0
}

// versionParts parses major.minor.patch, ignoring any pre-release suffix.
// Unparseable parts count as zero.
func versionParts(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if idx := strings.IndexAny(v, "-+"); idx != -1 {
		v = v[:idx]
	}
	var parts [3]int
	for i, s := range strings.SplitN(v, ".", 3) {
		parts[i], _ = strconv.Atoi(s)
	}
	return parts
}

// GetVersionString returns the full version string
func GetVersionString() string {
	return fmt.Sprintf("matrixsync version: %s (commit: %s, built: %s)", Version, CommitHash, BuildDate)
}

// GetShortVersion returns just the version number
func GetShortVersion() string {
	return Version
}
