package cipherledger

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/cipherledger/pkg/auth"
	"github.com/i5heu/cipherledger/pkg/logging"
)

// Config configures a Ledger. Only Paths[0] is used at the
// moment.
type Config struct {
	// Paths contains data directories. Ignored when InMemory is
	// set or a store is injected with NewWithStore.
	Paths []string
	// MinimumFreeGB is the free-space threshold checked when the
	// store opens.
	MinimumFreeGB uint
	// InMemory keeps the badger store in memory.
	InMemory bool
	// Logger is an optional structured logger. If nil,
	// logging.Logger is used.
	Logger *slog.Logger
	// StoreLogger receives badger store logs. If nil, a logrus
	// logger at warn level is used.
	StoreLogger *logrus.Logger
	// Registerer receives the ledger metrics. If nil, metrics
	// are collected but not registered.
	Registerer prometheus.Registerer

	// AMLThreshold defaults to fhe.DefaultAMLThreshold.
	AMLThreshold decimal.Decimal

	// Decrypt authorization settings. See auth.Config.
	ContractAddress string
	ChainID         uint64
	DurationDays    uint32
	TokenTTL        time.Duration
	SignTimeout     time.Duration
	Verifier        auth.Verifier

	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Logger
	}
	if c.StoreLogger == nil {
		c.StoreLogger = logrus.New()
		c.StoreLogger.SetLevel(logrus.WarnLevel)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
