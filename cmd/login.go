package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shawkym/matrixsync/pkg/config"
	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

var (
	loginUser       string
	loginPassword   string
	loginHomeserver string
	loginSave       bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with a password and print the access token",
	Long: `Log in to the homeserver with m.login.password and print the access token.
Missing credentials are prompted for. With --save the token is written to the
configuration file and the password is removed from it.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "", "User ID or localpart")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when empty)")
	loginCmd.Flags().StringVar(&loginHomeserver, "homeserver", "", "Homeserver URL (overrides config)")
	loginCmd.Flags().BoolVar(&loginSave, "save", false, "Store the access token in the config file")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if flagChanged(cmd.Flags(), "homeserver") {
		cfg.Homeserver.URL = loginHomeserver
	}
	if loginUser != "" {
		cfg.Auth.User = loginUser
	}
	if loginPassword != "" {
		cfg.Auth.Password = loginPassword
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := login(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cfg)
	if err != nil {
		return err
	}

	if loginSave {
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg.Auth.AccessToken = resp.AccessToken
		cfg.Auth.Password = ""
		if err := cfg.SaveConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Access token saved to %s\n", path)
	}
	return nil
}

// login prompts for whatever credentials cfg lacks, logs in and prints the
// response.
func login(ctx context.Context, in io.Reader, out io.Writer, cfg *config.Config) (*matrix.LoginResponse, error) {
	client, err := matrix.NewClient(cfg.Homeserver.ClientConfig())
	if err != nil {
		return nil, err
	}

	reader := bufio.NewReader(in)
	user := cfg.Auth.User
	if user == "" {
		user = promptString(reader, out, "User", "")
	}
	password := cfg.Auth.Password
	if password == "" {
		password = promptString(reader, out, "Password", "")
	}
	if user == "" || password == "" {
		return nil, errors.New("user and password are required")
	}

	log.WithFields(map[string]interface{}{
		"homeserver": client.BaseURL(),
		"user":       user,
	}).Debug("logging in")

	resp, err := client.Login(ctx, user, password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintf(out, "User ID:      %s\n", resp.UserID)
	if resp.HomeServer != "" {
		fmt.Fprintf(out, "Homeserver:   %s\n", resp.HomeServer)
	}
	fmt.Fprintf(out, "Access token: %s\n", resp.AccessToken)
	return resp, nil
}
