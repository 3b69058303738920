package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcus/playbill/internal/config"
	"github.com/marcus/playbill/internal/db"
	"github.com/marcus/playbill/internal/models"
	"github.com/marcus/playbill/internal/output"
	"github.com/marcus/playbill/internal/security"
)

var (
	initMarketURL   string
	initPublicKey   string
	initPackageName string
	initSandbox     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the purchase ledger and config",
	Long:  `Creates the local .playbill directory, the SQLite purchase ledger, and the client config.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".playbill")); err == nil {
			output.Warning(".playbill/ already exists")
		}

		if initPublicKey != "" {
			if _, err := security.ParsePublicKey(initPublicKey); err != nil {
				output.Error("invalid public key: %v", err)
				return err
			}
		}

		database, err := db.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize ledger: %v", err)
			return err
		}
		defer database.Close()

		err = config.Update(baseDir, func(cfg *models.Config) error {
			if initMarketURL != "" {
				cfg.MarketURL = initMarketURL
			}
			if initPublicKey != "" {
				cfg.PublicKey = initPublicKey
			}
			if initPackageName != "" {
				cfg.PackageName = initPackageName
			}
			if initSandbox {
				cfg.RequireSignature = false
			}
			return nil
		})
		if err != nil {
			output.Error("failed to save config: %v", err)
			return err
		}

		deviceID, err := config.EnsureDeviceID(baseDir)
		if err != nil {
			output.Error("failed to assign device id: %v", err)
			return err
		}

		fmt.Println("INITIALIZED .playbill/")
		fmt.Printf("Device: %s\n", deviceID)
		if initSandbox {
			output.Warning("sandbox mode: unsigned purchase data will be trusted")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initMarketURL, "market-url", "", "Base URL of the market billing service")
	initCmd.Flags().StringVar(&initPublicKey, "public-key", "", "Base64 X.509 public key for signature verification")
	initCmd.Flags().StringVar(&initPackageName, "package-name", "", "Package name sent with billing requests")
	initCmd.Flags().BoolVar(&initSandbox, "sandbox", false, "Trust unsigned purchase data (test servers only)")
}
