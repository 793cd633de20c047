package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.2.0", "1.1.9", 1},
		{"1.2", "1.2.1", -1},
		{"2.0.0-rc1", "2.0.0", 0},
		{"v10.0.0", "v9.9.9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.v1+"_"+tt.v2, func(t *testing.T) {
			if got := compareVersions(tt.v1, tt.v2); got != tt.want {
				t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.want)
			}
		})
	}
}

func TestCheckForUpdate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "matrixsync/v1.0.0" {
			t.Errorf("unexpected User-Agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`{"tag_name":"v1.1.0","name":"v1.1.0"}`))
	}))
	defer server.Close()

	oldVersion, oldAPI := Version, ReleasesAPI
	defer func() { Version, ReleasesAPI = oldVersion, oldAPI }()
	Version, ReleasesAPI = "v1.0.0", server.URL

	available, tag, err := CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate failed: %v", err)
	}
	if !available || tag != "v1.1.0" {
		t.Errorf("CheckForUpdate() = %v, %q", available, tag)
	}
}

func TestCheckForUpdateSkipsDevBuilds(t *testing.T) {
	oldVersion := Version
	defer func() { Version = oldVersion }()
	Version = "dev"

	available, tag, err := CheckForUpdate(context.Background())
	if available || tag != "" || err != nil {
		t.Errorf("expected no check for dev builds, got %v %q %v", available, tag, err)
	}
}
