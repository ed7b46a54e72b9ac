// Package note implements client-side note handling: generating the
// (nullifier, secret) pair behind a deposit, deriving notes
// deterministically from a wallet seed, and the portable note string a
// depositor must retain to withdraw later.
//
// A note string looks like
//
//	shieldpool-ETH-v1-0x<64 hex nullifier><64 hex secret>
//
// and is the only artifact needed to spend a deposit. Losing it forfeits
// the funds; leaking it forfeits them to whoever holds it.
package note

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
)

const (
	notePrefix  = "shieldpool"
	noteVersion = "v1"

	// derivationSalt domain-separates note derivation from any other use
	// of the same wallet seed
	derivationSalt = "shieldpool/note-derivation/v1"
)

// ErrInvalidNote is returned when a note string cannot be parsed
var ErrInvalidNote = errors.New("invalid note")

// Note is a spendable claim on one deposit
type Note struct {
	Symbol    string
	Nullifier [32]byte
	Secret    [32]byte
}

// New generates a note from fresh randomness
func New(symbol string) (*Note, error) {
	if err := checkSymbol(symbol); err != nil {
		return nil, err
	}

	nullifier, err := hasher.RandomScalar()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate nullifier")
	}
	secret, err := hasher.RandomScalar()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate secret")
	}

	return &Note{Symbol: symbol, Nullifier: nullifier, Secret: secret}, nil
}

// Derive deterministically derives the index-th note for a symbol from a
// wallet seed. The same (seed, symbol, index) always yields the same
// note, which lets a wallet recover its notes from the seed alone.
func Derive(symbol string, seed []byte, index uint32) (*Note, error) {
	if err := checkSymbol(symbol); err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return nil, errors.Wrap(ErrInvalidNote, "seed is empty")
	}

	info := make([]byte, 0, len(symbol)+5)
	info = append(info, []byte(symbol)...)
	info = append(info, '/')
	info = binary.BigEndian.AppendUint32(info, index)

	reader := hkdf.New(sha256.New, seed, []byte(derivationSalt), info)
	buf := make([]byte, 64)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, errors.Wrap(err, "failed to derive note material")
	}

	return &Note{
		Symbol:    symbol,
		Nullifier: hasher.Reduce(buf[:32]),
		Secret:    hasher.Reduce(buf[32:]),
	}, nil
}

// Commitment returns the value published on deposit
func (n *Note) Commitment() [32]byte {
	return hasher.CommitmentHash(n.Nullifier, n.Secret)
}

// NullifierHash returns the value published on withdrawal
func (n *Note) NullifierHash() [32]byte {
	return hasher.NullifierHash(n.Nullifier)
}

// String encodes the note in its portable form
func (n *Note) String() string {
	return fmt.Sprintf("%s-%s-%s-0x%s%s",
		notePrefix, n.Symbol, noteVersion,
		hex.EncodeToString(n.Nullifier[:]),
		hex.EncodeToString(n.Secret[:]),
	)
}

// Parse decodes a note string produced by String
func Parse(s string) (*Note, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 4 {
		return nil, errors.Wrap(ErrInvalidNote, "expected four dash-separated segments")
	}
	if parts[0] != notePrefix {
		return nil, errors.Wrapf(ErrInvalidNote, "unexpected prefix %q", parts[0])
	}
	if err := checkSymbol(parts[1]); err != nil {
		return nil, err
	}
	if parts[2] != noteVersion {
		return nil, errors.Wrapf(ErrInvalidNote, "unsupported version %q", parts[2])
	}

	payload := parts[3]
	if !strings.HasPrefix(payload, "0x") {
		return nil, errors.Wrap(ErrInvalidNote, "payload missing 0x prefix")
	}
	raw, err := hex.DecodeString(payload[2:])
	if err != nil {
		return nil, errors.Wrap(ErrInvalidNote, "payload is not hex")
	}
	if len(raw) != 64 {
		return nil, errors.Wrapf(ErrInvalidNote, "payload holds %d bytes, want 64", len(raw))
	}

	n := &Note{Symbol: parts[1]}
	copy(n.Nullifier[:], raw[:32])
	copy(n.Secret[:], raw[32:])

	if err := hasher.CheckCanonical(n.Nullifier); err != nil {
		return nil, errors.Wrap(ErrInvalidNote, "nullifier is not a canonical field element")
	}
	if err := hasher.CheckCanonical(n.Secret); err != nil {
		return nil, errors.Wrap(ErrInvalidNote, "secret is not a canonical field element")
	}
	return n, nil
}

// checkSymbol enforces that a symbol survives the dash-separated format
func checkSymbol(symbol string) error {
	if symbol == "" {
		return errors.Wrap(ErrInvalidNote, "symbol is empty")
	}
	if strings.Contains(symbol, "-") {
		return errors.Wrapf(ErrInvalidNote, "symbol %q must not contain dashes", symbol)
	}
	return nil
}
