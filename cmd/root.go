package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	configDir      string
	logLevel       string
	nonInteractive bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "parrotctl",
	Short: "Manage deployments of the parrot speech and translation pipeline",
	Long: `parrotctl assembles and drives the deployment lifecycle of multi-service
speech/translation pipelines: it merges per-component deployment fragments
into one specification, provisions shared TLS material, and drives the
container engine through configure/build/start/stop/delete.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		logger.Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "root for per-pipeline directories (default $PYPARROT_CONFIG_DIR or ./config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&nonInteractive, "yes", "y", false, "non-interactive confirmations")

	viper.BindPFlag("config-dir", rootCmd.PersistentFlags().Lookup("config-dir"))
	viper.BindEnv("config-dir", "PYPARROT_CONFIG_DIR")
}

// initConfig reads environment variables and initializes the logger.
func initConfig() {
	viper.AutomaticEnv()

	if err := logger.Init(logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
}

// configRoot resolves the root directory holding per-pipeline
// directories: the --config-dir flag, then PYPARROT_CONFIG_DIR, then
// ./config.
func configRoot() string {
	if dir := viper.GetString("config-dir"); dir != "" {
		return dir
	}
	return "./config"
}

// certBaseDir is the user-scoped directory holding the certificate
// registry and self-signed material, shared by every pipeline and
// outliving all of them.
func certBaseDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, "parrotctl"), nil
}

// confirm asks the operator a yes/no question on stdin. --yes answers
// every prompt affirmatively.
func confirm(prompt string) bool {
	if nonInteractive {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
