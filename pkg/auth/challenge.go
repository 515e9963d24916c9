package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDurationDays is the validity window signed into a
	// challenge when none is configured.
	DefaultDurationDays uint32 = 30

	// publicKeySize yields a 2000 hex digit session key.
	publicKeySize = 1000
)

// ChallengeParams are the inputs of a decryption challenge.
// PublicKey is the hex text of the session public key,
// usually 0x-prefixed.
type ChallengeParams struct {
	PublicKey          string
	ContractAddress    string
	ChainID            uint64
	WindowStart        time.Time
	WindowDurationDays uint32
}

// BuildChallenge renders p in the newline-joined layout wallets
// sign:
//
//	publickey:<public key hex>
//	contractAddresses:<contract address>
//	contractsChainId:<chain id>
//	startTimestamp:<unix seconds>
//	durationDays:<days>
//
// The layout is fixed byte for byte so that independent
// verifiers rebuild the same message.
func BuildChallenge(p ChallengeParams) string { // A
	lines := []string{
		"publickey:" + p.PublicKey,
		"contractAddresses:" + p.ContractAddress,
		"contractsChainId:" + strconv.FormatUint(p.ChainID, 10),
		"startTimestamp:" + strconv.FormatInt(p.WindowStart.Unix(), 10),
		"durationDays:" + strconv.FormatUint(uint64(p.WindowDurationDays), 10),
	}
	return strings.Join(lines, "\n")
}

var challengeKeys = [...]string{
	"publickey",
	"contractAddresses",
	"contractsChainId",
	"startTimestamp",
	"durationDays",
}

// ParseChallenge reads text in the layout BuildChallenge
// writes. Lines must appear in order and nothing else may
// follow.
func ParseChallenge(text string) (ChallengeParams, error) { // A
	lines := strings.Split(text, "\n")
	if len(lines) != len(challengeKeys) {
		return ChallengeParams{}, fmt.Errorf(
			"challenge has %d lines, want %d", len(lines), len(challengeKeys),
		)
	}
	var vals [len(challengeKeys)]string
	for i, key := range challengeKeys {
		v, ok := strings.CutPrefix(lines[i], key+":")
		if !ok {
			return ChallengeParams{}, fmt.Errorf("challenge line %d: want %q", i+1, key)
		}
		vals[i] = v
	}

	chainID, err := strconv.ParseUint(vals[2], 10, 64)
	if err != nil {
		return ChallengeParams{}, fmt.Errorf("contractsChainId: %w", err)
	}
	start, err := strconv.ParseInt(vals[3], 10, 64)
	if err != nil {
		return ChallengeParams{}, fmt.Errorf("startTimestamp: %w", err)
	}
	days, err := strconv.ParseUint(vals[4], 10, 32)
	if err != nil {
		return ChallengeParams{}, fmt.Errorf("durationDays: %w", err)
	}
	if vals[0] == "" {
		return ChallengeParams{}, errors.New("publickey: empty")
	}
	return ChallengeParams{
		PublicKey:          vals[0],
		ContractAddress:    vals[1],
		ChainID:            chainID,
		WindowStart:        time.Unix(start, 0),
		WindowDurationDays: uint32(days),
	}, nil
}

// WindowEnd is the first instant the challenge is no longer
// valid.
func (p ChallengeParams) WindowEnd() time.Time { // A
	return p.WindowStart.Add(time.Duration(p.WindowDurationDays) * 24 * time.Hour)
}

// NewPublicKey returns a random 0x-prefixed session key.
func NewPublicKey() (string, error) { // A
	buf := make([]byte, publicKeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}
