package cmd

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/config"
	"github.com/marcus/playbill/internal/db"
	"github.com/marcus/playbill/internal/market"
	"github.com/marcus/playbill/internal/models"
	"github.com/marcus/playbill/internal/security"
)

// billingSession bundles everything a billing command needs: the config,
// the open ledger, and a dispatcher wired to the market transport.
type billingSession struct {
	cfg       *models.Config
	database  *db.DB
	transport *market.HTTPTransport
	svc       *billing.Service
}

// openSession loads config, opens the ledger and wires the dispatcher.
// The caller must Close the session.
func openSession(baseDir string) (*billingSession, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.MarketURL == "" {
		return nil, fmt.Errorf("no market url configured: run 'playbill init --market-url URL' first")
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID, err = config.EnsureDeviceID(baseDir)
		if err != nil {
			return nil, fmt.Errorf("assign device id: %w", err)
		}
	}

	database, err := db.Open(baseDir)
	if err != nil {
		return nil, err
	}

	var key *rsa.PublicKey
	if cfg.PublicKey != "" {
		key, err = security.ParsePublicKey(cfg.PublicKey)
		if err != nil {
			database.Close()
			return nil, err
		}
	}
	verifier := security.NewVerifier(key, cfg.RequireSignature)

	transport := market.NewHTTPTransport(cfg.MarketURL, deviceID, nil)
	svc := billing.NewService(transport, verifier, database, cfg.PackageName, deviceID)
	transport.Attach(svc)

	// Inbound purchase notifications trigger a fetch of the signed data.
	transport.OnNotify = func(invocationID int, notifyID string) {
		svc.GetPurchaseInformation(invocationID, []string{notifyID})
	}

	return &billingSession{cfg: cfg, database: database, transport: transport, svc: svc}, nil
}

// Close shuts down the dispatcher and the ledger.
func (s *billingSession) Close() {
	s.svc.Close()
	s.database.Close()
}

// errWaitTimeout is returned when the market does not answer in time.
var errWaitTimeout = fmt.Errorf("timed out waiting for the market")

// waitEvents consumes billing events until handler reports done or the
// timeout elapses.
func (s *billingSession) waitEvents(timeout time.Duration, handler func(billing.Event) bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-s.svc.Events():
			if !ok {
				return fmt.Errorf("billing service closed")
			}
			if handler(ev) {
				return nil
			}
		case <-deadline.C:
			return errWaitTimeout
		}
	}
}

// drainEvents consumes billing events until the stream goes quiet for idle
// or the timeout elapses. Used after restore, where the number of incoming
// state changes is unknown.
func (s *billingSession) drainEvents(timeout, idle time.Duration, handler func(billing.Event)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	quiet := time.NewTimer(idle)
	defer quiet.Stop()

	got := false
	for {
		select {
		case ev, ok := <-s.svc.Events():
			if !ok {
				return fmt.Errorf("billing service closed")
			}
			got = true
			handler(ev)
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(idle)
		case <-quiet.C:
			if got {
				return nil
			}
			quiet.Reset(idle)
		case <-deadline.C:
			if got {
				return nil
			}
			return errWaitTimeout
		}
	}
}
