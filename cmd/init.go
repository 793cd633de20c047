package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shawkym/matrixsync/pkg/config"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a matrixsync configuration file",
	Long: `Create a new matrixsync configuration file interactively.
This command asks for the homeserver, credentials and sync options.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputPath, _ := cmd.Flags().GetString("output")
		return runInit(context.Background(), cmd.InOrStdin(), cmd.OutOrStdout(), outputPath)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("output", "o", config.DefaultConfigPath(), "Output configuration file path")
}

func runInit(ctx context.Context, in io.Reader, out io.Writer, outputPath string) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          matrixsync Configuration Setup           ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	if _, err := os.Stat(outputPath); err == nil {
		fmt.Fprintf(out, "⚠️  Configuration file '%s' already exists.\n", outputPath)
		if !promptYesNo(reader, out, "Overwrite?", false) {
			fmt.Fprintln(out, "❌ Canceled.")
			return nil
		}
		fmt.Fprintln(out)
	}

	cfg := config.NewDefaultConfig()

	section(out, "Homeserver")
	for {
		cfg.Homeserver.URL = promptString(reader, out, "Homeserver URL", config.DefaultHomeserver)
		if _, err := matrix.NewClient(cfg.Homeserver.ClientConfig()); err != nil {
			fmt.Fprintf(out, "  ❌ %v\n", err)
			continue
		}
		break
	}

	section(out, "Credentials")
	cfg.Auth.User = promptString(reader, out, "User (e.g. @alice:matrix.org)", "")
	if cfg.Auth.User != "" {
		password := promptString(reader, out, "Password", "")
		if password != "" && promptYesNo(reader, out, "Log in now and store the access token instead of the password?", true) {
			client, err := matrix.NewClient(cfg.Homeserver.ClientConfig())
			if err != nil {
				return err
			}
			resp, err := client.Login(ctx, cfg.Auth.User, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			cfg.Auth.AccessToken = resp.AccessToken
			fmt.Fprintf(out, "  ✅ Logged in as %s\n", resp.UserID)
		} else {
			cfg.Auth.Password = password
		}
	}

	section(out, "Sync")
	for {
		cfg.Sync.TimeoutMs = promptInt(reader, out, "Long-poll timeout in milliseconds", config.DefaultSyncTimeoutMs)
		if cfg.Sync.TimeoutMs >= 0 {
			break
		}
		fmt.Fprintln(out, "  ❌ Timeout cannot be negative.")
	}
	if rooms := promptString(reader, out, "Only follow these rooms (comma separated, empty for all)", ""); rooms != "" {
		for _, room := range strings.Split(rooms, ",") {
			if room = strings.TrimSpace(room); room != "" {
				cfg.Sync.Rooms = append(cfg.Sync.Rooms, room)
			}
		}
	}
	presence := promptChoice(reader, out, "Presence while syncing", []string{"default", "online", "unavailable", "offline"}, 1)
	if presence != "default" {
		cfg.Sync.SetPresence = presence
	}

	section(out, "Output")
	cfg.Logging.Level = promptChoice(reader, out, "Log level", []string{"debug", "info", "warn", "error"}, 2)
	cfg.Metrics.Enabled = promptYesNo(reader, out, "Expose Prometheus metrics?", false)
	if cfg.Metrics.Enabled {
		cfg.Metrics.Addr = promptString(reader, out, "Metrics address", config.DefaultMetricsAddr)
	}
	cfg.Export.Path = promptString(reader, out, "Archive snapshots to file (empty to disable)", "")
	if cfg.Export.Path != "" {
		cfg.Export.Format = promptChoice(reader, out, "Archive format", []string{config.FormatJSONL, config.FormatMarkdown}, 1)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.SaveConfig(outputPath); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✅ Configuration saved to %s\n", outputPath)
	fmt.Fprintf(out, "   Start syncing with: matrixsync watch --config %s\n", outputPath)
	return nil
}

func section(out io.Writer, title string) {
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(out, "  "+title)
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(out)
}

func promptString(reader *bufio.Reader, out io.Writer, prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(out, "%s (default: %s): ", prompt, defaultValue)
	} else {
		fmt.Fprintf(out, "%s: ", prompt)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultValue int) int {
	for {
		fmt.Fprintf(out, "%s (default: %d): ", prompt, defaultValue)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		if input == "" {
			return defaultValue
		}

		value, convErr := strconv.Atoi(input)
		if convErr != nil {
			if err != nil {
				return defaultValue
			}
			fmt.Fprintf(out, "  ❌ Invalid number. Please try again.\n")
			continue
		}
		return value
	}
}

func promptYesNo(reader *bufio.Reader, out io.Writer, prompt string, defaultValue bool) bool {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	for {
		fmt.Fprintf(out, "%s [%s]: ", prompt, defaultStr)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))

		if input == "" {
			return defaultValue
		}
		if input == "y" || input == "yes" {
			return true
		}
		if input == "n" || input == "no" {
			return false
		}
		if err != nil {
			return defaultValue
		}

		fmt.Fprintln(out, "  ❌ Please answer 'y' or 'n'")
	}
}

func promptChoice(reader *bufio.Reader, out io.Writer, prompt string, choices []string, defaultIndex int) string {
	for {
		fmt.Fprintf(out, "%s [%s] (1-%d, default: %d): ", prompt, strings.Join(choices, ", "), len(choices), defaultIndex)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		if input == "" {
			return choices[defaultIndex-1]
		}

		choice, convErr := strconv.Atoi(input)
		if convErr != nil || choice < 1 || choice > len(choices) {
			if err != nil {
				return choices[defaultIndex-1]
			}
			fmt.Fprintf(out, "  ❌ Please select a number between 1 and %d\n", len(choices))
			continue
		}

		return choices[choice-1]
	}
}
