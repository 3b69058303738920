package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/marcus/playbill/internal/market"
	"github.com/marcus/playbill/internal/output"
)

var (
	serveAddr     string
	servePrintKey bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a sandbox market billing server",
	Long: `Starts a local market simulator for development and testing.

The server signs purchase payloads with its own key (persisted under
.playbill/) and understands the reserved android.test.* item ids. Point a
client at it with:

  playbill init --market-url http://127.0.0.1:8090 --public-key $(playbill serve --print-key)`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()
		keyPath := filepath.Join(baseDir, ".playbill", "market.key")

		signer, err := market.LoadOrCreateSigner(keyPath)
		if err != nil {
			output.Error("signing key: %v", err)
			return err
		}

		if servePrintKey {
			fmt.Println(signer.PublicKey())
			return nil
		}

		dbPath := filepath.Join(baseDir, ".playbill", "market.db")
		conn, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(500)&_pragma=journal_mode(WAL)")
		if err != nil {
			output.Error("open market db: %v", err)
			return err
		}
		defer conn.Close()

		store, err := market.NewStore(conn)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		srv := market.NewServer(serveAddr, signer, store)
		if err := srv.Start(); err != nil {
			output.Error("%v", err)
			return err
		}

		output.Success("market listening on %s", srv.Addr())
		output.Info("public key: %s", signer.PublicKey())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			output.Warning("shutdown: %v", err)
		}
		output.Info("market stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8090", "Listen address")
	serveCmd.Flags().BoolVar(&servePrintKey, "print-key", false, "Print the public key and exit")
}
