package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/ini.v1"

	"callrelay/tenant"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "callrelay",
	Short: "Multi-tenant call routing and live call state",
	Long: `callrelay answers the telephony provider's webhooks, rings the operator
consoles connected for the tenant that owns the dialed number, tracks every
call's lifecycle and streams call audio to a transcription service.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and stream server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, settings, err := loadConfig()
		if err != nil {
			return err
		}
		initLogging(cfg)
		defer closeLogging()
		coreLog.Infof("settings loaded from %s", configFile)

		store, err := openStore(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := startGateway(settings, store); err != nil {
			coreLog.Errorf("gateway stopped: %v", err)
			return err
		}
		return nil
	},
}

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenant telephony configuration",
}

var tenantsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import tenants from a YAML file",
	Long: `Import tenants from a YAML file, replacing tenants with the same id.

Example file (tenants.yaml):
  tenants:
    - id: acme
      name: Acme Support
      account_sid: AC...
      auth_token: ...
      api_key_sid: SK...
      api_secret: ...
      app_sid: AP...
      numbers: ["+15551234567"]`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		cfg, settings, err := loadConfig()
		if err != nil {
			return err
		}
		initLogging(cfg)
		defer closeLogging()

		store, err := openStore(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := tenant.Import(cmd.Context(), store, file)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d tenants\n", n)
		return nil
	},
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, settings, err := loadConfig()
		if err != nil {
			return err
		}
		initLogging(cfg)
		defer closeLogging()

		store, err := openStore(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer store.Close()

		cfgs, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range cfgs {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-24s %s\n", c.ID, c.Name, strings.Join(c.Numbers, ","))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "settings.ini", "settings file")
	tenantsImportCmd.Flags().StringP("file", "f", "", "tenants YAML file")

	tenantsCmd.AddCommand(tenantsImportCmd)
	tenantsCmd.AddCommand(tenantsListCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tenantsCmd)
}

func loadConfig() (*ini.File, *Settings, error) {
	cfg, err := ini.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}
	settings, err := LoadSettings(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	return cfg, settings, nil
}

// openStore opens the tenant store and applies the seed file when one is
// configured.
func openStore(ctx context.Context, s *Settings) (tenant.Store, error) {
	store, err := tenant.OpenBadger(tenant.BadgerOptions{
		Dir:      s.StoreDir(),
		InMemory: s.StoreInMemory(),
		Log:      coreLog,
	})
	if err != nil {
		return nil, fmt.Errorf("open tenant store: %w", err)
	}
	if seed := s.SeedFile(); seed != "" {
		n, err := tenant.Import(ctx, store, seed)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed tenants: %w", err)
		}
		coreLog.Infof("seeded %d tenants from %s", n, seed)
	}
	return store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
