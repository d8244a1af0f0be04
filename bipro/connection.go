package bipro

import (
	"time"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/config"
)

// Connection bundles everything needed to talk to one carrier: its profile,
// its own token manager, the transfer client and the adaptive rate limiter.
// Each carrier gets its own Connection; nothing here is process-global, so
// tokens can never leak across carriers.
type Connection struct {
	Carrier  *config.CarrierConfig
	Tokens   *TokenManager
	Transfer *TransferClient
	Limiter  *AdaptiveRateLimiter
}

// Connect wires up a carrier connection from its configuration.
func Connect(carrier *config.CarrierConfig, transferCfg *config.TransferConfig) (*Connection, error) {
	sts, err := NewSecurityTokenClient(carrier, time.Duration(transferCfg.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	tokens := NewTokenManager(sts)
	limiter := NewAdaptiveRateLimiter(
		transferCfg.ConcurrencyFloor,
		transferCfg.ConcurrencyCeiling,
		time.Duration(transferCfg.CooldownSeconds)*time.Second,
	)

	transfer, err := NewTransferClient(carrier, tokens, limiter, transferCfg)
	if err != nil {
		return nil, err
	}

	return &Connection{
		Carrier:  carrier,
		Tokens:   tokens,
		Transfer: transfer,
		Limiter:  limiter,
	}, nil
}

// Coordinator returns a download coordinator for this connection bounded at
// maxWorkers.
func (c *Connection) Coordinator(maxWorkers int) *ParallelDownloadCoordinator {
	return NewParallelDownloadCoordinator(c.Transfer, c.Limiter, maxWorkers)
}

// Close discards the connection's security token.
func (c *Connection) Close() {
	c.Tokens.Close()
}
