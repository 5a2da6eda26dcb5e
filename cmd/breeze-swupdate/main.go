package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/swupdate-agent/internal/inventory"
	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

var (
	version = "0.1.0"
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "breeze-swupdate",
	Short:         "Breeze software update agent",
	Long:          `Breeze software update agent - streams verified system images into the installer and tracks the reboot that activates them`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	},
}

var installFlags struct {
	filename string
	uri      string
	length   uint64
	hashType string
	hash     string
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download, verify and install an image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res := a.manager.Install(ctx, flagTarget())
		return printResult(res)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Reboot into the installed image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.manager.Status()
		if err != nil {
			return err
		}
		if r.PendingTarget == nil {
			return errors.New("no install is awaiting a reboot")
		}
		return a.manager.CompleteInstall()
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Verify the running image after the update reboot",
	Long: `Verify the running image after the update reboot. Without flags the
pending target recorded by install is used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		if installFlags.filename != "" {
			return printResult(a.manager.FinalizeInstall(flagTarget()))
		}
		res, err := a.manager.FinalizePending()
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Print the installed package inventory as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		records, err := inventory.LoadFile(nil, cfg.PackagesFile)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted update state and recent journal entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Breeze SWUpdate Agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/breeze/breeze-swupdate.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load BREEZE_SWUPDATE_* overrides from a dotenv file")

	for _, c := range []*cobra.Command{installCmd, finalizeCmd} {
		c.Flags().StringVar(&installFlags.filename, "filename", "", "target file name")
		c.Flags().StringVar(&installFlags.hashType, "hash-type", string(api.HashSHA256), "digest algorithm (sha256, sha512, sha3-256, blake2b-256)")
		c.Flags().StringVar(&installFlags.hash, "hash", "", "expected hex digest")
	}
	installCmd.Flags().StringVar(&installFlags.uri, "uri", "", "artifact URI (default <repo_server>/targets/<filename>)")
	installCmd.Flags().Uint64Var(&installFlags.length, "length", 0, "expected length in bytes")
	installCmd.MarkFlagRequired("filename")
	installCmd.MarkFlagRequired("length")
	installCmd.MarkFlagRequired("hash")
	finalizeCmd.MarkFlagsRequiredTogether("filename", "hash")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(packagesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func flagTarget() api.Target {
	return api.Target{
		Filename: installFlags.filename,
		URI:      installFlags.uri,
		Length:   installFlags.length,
		Hash:     api.Hash{Type: api.HashType(installFlags.hashType), Value: installFlags.hash},
	}
}

// printResult writes res as JSON and turns InstallFailed into a non-zero
// exit.
func printResult(res api.InstallationResult) error {
	if err := printJSON(res); err != nil {
		return err
	}
	if res.Code == api.ResultInstallFailed {
		return fmt.Errorf("install failed: %s", res.Message)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
