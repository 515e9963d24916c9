package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	cipherledger "github.com/i5heu/cipherledger"
)

// LedgerConfig translates c into a cipherledger.Config. Logger,
// Registerer and Verifier are left for the caller.
func (c Config) LedgerConfig() (cipherledger.Config, error) {
	threshold, err := decimal.NewFromString(c.AMLThreshold)
	if err != nil {
		return cipherledger.Config{}, fmt.Errorf("amlThreshold %q: %w", c.AMLThreshold, err)
	}
	tokenTTL, err := parseDuration("tokenTTL", c.TokenTTL)
	if err != nil {
		return cipherledger.Config{}, err
	}
	signTimeout, err := parseDuration("signTimeout", c.SignTimeout)
	if err != nil {
		return cipherledger.Config{}, err
	}

	conf := cipherledger.Config{
		InMemory:        c.InMemory,
		MinimumFreeGB:   uint(max(c.MinimumFreeGB, 0)),
		AMLThreshold:    threshold,
		ContractAddress: c.ContractAddress,
		ChainID:         c.ChainID,
		DurationDays:    c.DurationDays,
		TokenTTL:        tokenTTL,
		SignTimeout:     signTimeout,
	}
	if !c.InMemory {
		conf.Paths = []string{c.DataDir}
	}
	return conf, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d, nil
}
