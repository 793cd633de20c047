package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"github.com/shawkym/matrixsync/internal/version"
	"github.com/shawkym/matrixsync/pkg/config"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

type SystemCheck struct {
	Name    string `json:"name"`
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Icon    string `json:"icon,omitempty"`
}

type DoctorOutput struct {
	SystemEnvironment []SystemCheck `json:"system_environment"`
	Configuration     []SystemCheck `json:"configuration"`
	Homeserver        []SystemCheck `json:"homeserver"`
	Summary           DoctorSummary `json:"summary"`
}

type DoctorSummary struct {
	Failed int  `json:"failed"`
	Ready  bool `json:"ready"`
}

var (
	doctorJSON    bool
	doctorTimeout time.Duration
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the configuration and the homeserver connection",
	Long: `Doctor validates the configuration, checks that the homeserver answers and,
when an access token is configured, that a sync call is accepted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
		defer cancel()

		output := runDoctorChecks(ctx, cfg, path)
		if doctorJSON {
			encoded, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("error generating JSON output: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		}
		printDoctorOutput(cmd.OutOrStdout(), output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results in JSON format")
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 15*time.Second, "Time allowed for the homeserver checks")
}

func passed(name, message string) SystemCheck {
	return SystemCheck{Name: name, Status: true, Message: message, Icon: "✅"}
}

func failed(name, message string) SystemCheck {
	return SystemCheck{Name: name, Status: false, Message: message, Icon: "❌"}
}

func warning(name, message string) SystemCheck {
	return SystemCheck{Name: name, Status: true, Message: message, Icon: "⚠️ "}
}

func runDoctorChecks(ctx context.Context, cfg *config.Config, configPath string) DoctorOutput {
	output := DoctorOutput{
		SystemEnvironment: performSystemChecks(configPath),
		Configuration:     performConfigChecks(cfg),
		Homeserver:        performHomeserverChecks(ctx, cfg),
	}

	for _, group := range [][]SystemCheck{output.SystemEnvironment, output.Configuration, output.Homeserver} {
		for _, check := range group {
			if !check.Status {
				output.Summary.Failed++
			}
		}
	}
	output.Summary.Ready = output.Summary.Failed == 0
	return output
}

func performSystemChecks(configPath string) []SystemCheck {
	checks := []SystemCheck{
		passed("matrixsync", version.GetShortVersion()),
		passed("Go Runtime", fmt.Sprintf("%s (%s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH)),
	}
	if configPath != "" {
		checks = append(checks, passed("Config File", configPath))
	} else {
		checks = append(checks, warning("Config File", "none found, using defaults and MATRIX_* environment (run 'matrixsync init')"))
	}
	return checks
}

func performConfigChecks(cfg *config.Config) []SystemCheck {
	checks := []SystemCheck{}

	if _, err := matrix.NewClient(cfg.Homeserver.ClientConfig()); err != nil {
		checks = append(checks, failed("Homeserver URL", err.Error()))
	} else {
		checks = append(checks, passed("Homeserver URL", cfg.Homeserver.URL))
	}

	switch {
	case cfg.Auth.AccessToken != "":
		checks = append(checks, passed("Credentials", "access token configured"))
	case cfg.Auth.User != "" && cfg.Auth.Password != "":
		checks = append(checks, passed("Credentials", fmt.Sprintf("password login as %s", cfg.Auth.User)))
	default:
		checks = append(checks, failed("Credentials", "set auth.access_token, or auth.user and auth.password"))
	}

	if opts, err := cfg.Sync.Parameters(); err != nil {
		checks = append(checks, failed("Sync Parameters", err.Error()))
	} else {
		message := fmt.Sprintf("timeout %s", opts.Timeout)
		if filter, ok := opts.Filter.Get(); ok {
			message += ", filter " + truncate(filter, 40)
		}
		checks = append(checks, passed("Sync Parameters", message))
	}

	if cfg.Export.Path != "" {
		dir := filepath.Dir(cfg.Export.Path)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			checks = append(checks, failed("Archive", fmt.Sprintf("directory %s does not exist", dir)))
		} else {
			checks = append(checks, passed("Archive", fmt.Sprintf("%s (%s)", cfg.Export.Path, cfg.Export.Format)))
		}
	}

	if cfg.Metrics.Enabled {
		checks = append(checks, passed("Metrics", "serving on "+cfg.Metrics.Addr))
	}

	// The first two are always error recovery and logging.
	if names := newDisplayChain(cfg.Display).Names(); len(names) > 2 {
		checks = append(checks, passed("Display", strings.Join(names[2:], ", ")))
	}
	if cfg.Restart.MaxRestarts != 0 {
		policy := newRestartPolicy(cfg.Restart)
		limit := "unlimited"
		if cfg.Restart.MaxRestarts > 0 {
			limit = fmt.Sprintf("up to %d", cfg.Restart.MaxRestarts)
		}
		checks = append(checks, passed("Restarts", fmt.Sprintf("%s, paced at %s", limit, policy.limiter)))
	}
	return checks
}

// performHomeserverChecks makes one non-blocking sync call when a token is
// configured. Password credentials are not exercised since every login
// creates a new device.
func performHomeserverChecks(ctx context.Context, cfg *config.Config) []SystemCheck {
	client, err := matrix.NewClient(cfg.Homeserver.ClientConfig())
	if err != nil {
		return nil
	}
	if cfg.Auth.AccessToken == "" {
		return []SystemCheck{warning("Sync", "no access token to test (run 'matrixsync login --save')")}
	}

	filter, err := matrix.RoomTimelineFilter(nil, 1)
	if err != nil {
		return []SystemCheck{failed("Sync", err.Error())}
	}
	started := time.Now()
	snapshot, err := client.Sync(ctx, cfg.Auth.AccessToken, matrix.SyncParameters{
		Filter:  mo.Some(filter),
		Timeout: mo.Some(0),
	})
	if err != nil {
		if status, ok := matrix.StatusCodeOf(err); ok && status == 401 {
			return []SystemCheck{failed("Sync", "access token rejected (HTTP 401)")}
		}
		return []SystemCheck{failed("Sync", err.Error())}
	}

	return []SystemCheck{
		passed("Sync", fmt.Sprintf("accepted in %s, %d rooms", time.Since(started).Round(time.Millisecond), matrix.RoomCount(snapshot))),
		passed("Next Batch", snapshot.NextBatch),
	}
}

func printDoctorOutput(out io.Writer, output DoctorOutput) {
	fmt.Fprintln(out, "\n🔍 matrixsync Doctor - Health Check")
	fmt.Fprintln(out, strings.Repeat("=", 61))

	sections := []struct {
		title  string
		checks []SystemCheck
	}{
		{"📋 SYSTEM ENVIRONMENT", output.SystemEnvironment},
		{"⚙️  CONFIGURATION", output.Configuration},
		{"🌐 HOMESERVER", output.Homeserver},
	}
	for _, section := range sections {
		fmt.Fprintln(out, "\n"+section.title)
		fmt.Fprintln(out, strings.Repeat("-", 61))
		for _, check := range section.checks {
			fmt.Fprintf(out, "  %s %s: %s\n", check.Icon, check.Name, check.Message)
		}
	}

	fmt.Fprintln(out, "\n"+strings.Repeat("=", 61))
	if output.Summary.Ready {
		fmt.Fprintln(out, "\n✨ matrixsync is ready! Run 'matrixsync watch' to start syncing.")
	} else {
		fmt.Fprintf(out, "\n⚠️  %d check(s) failed. Fix the items marked ❌ above.\n", output.Summary.Failed)
	}
	fmt.Fprintln(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
