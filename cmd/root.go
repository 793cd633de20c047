package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shawkym/matrixsync/internal/version"
	"github.com/shawkym/matrixsync/pkg/config"
	"github.com/shawkym/matrixsync/pkg/log"
)

var (
	cfgFile     string
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "matrixsync",
	Short: "Follow a Matrix account through the client-server sync API",
	Long: `matrixsync logs in to a Matrix homeserver and long-polls its sync endpoint,
printing every snapshot as it arrives. Snapshots can be archived as JSON Lines
or Markdown, browsed in a terminal viewer and counted in Prometheus metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionString())
			return
		}
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.matrixsync/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "V", false, "Show version information")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding verbose flag: %v\n", err)
	}
}

func initConfig() {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	log.InitLogger(os.Stderr, level, true)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		log.WithField("config_file", cfgFile).Debug("using specified config file")
	} else {
		viper.AddConfigPath(filepath.Dir(config.DefaultConfigPath()))
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("matrixsync")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("found configuration file")
	} else {
		log.WithError(err).Debug("no config file found, using defaults")
	}
}

// loadConfig loads the file viper located, or defaults plus environment
// when there is none, and applies its logging section.
func loadConfig() (*config.Config, string, error) {
	path := viper.ConfigFileUsed()
	cfg, err := config.LoadConfigOrDefault(path)
	if err != nil {
		log.WithError(err).WithField("config_path", path).Error("failed to load configuration")
		return nil, "", err
	}

	applyLogging(cfg, path != "")
	if path != "" {
		log.WithFields(map[string]interface{}{
			"config_path": path,
			"homeserver":  cfg.Homeserver.URL,
		}).Info("configuration loaded successfully")
	}
	return cfg, path, nil
}

// applyLogging re-initializes the process logger from the logging section.
// --verbose always wins; without a config file the console writer is kept.
func applyLogging(cfg *config.Config, fromFile bool) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	log.InitLogger(os.Stderr, level, cfg.Logging.Pretty || !fromFile)
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	flag := flags.Lookup(name)
	return flag != nil && flag.Changed
}
