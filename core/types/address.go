package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// AccountPrefix is the human-readable part of bech32 account strings.
const AccountPrefix = "cdp"

var ErrInvalidAccount = errors.New("invalid account address")

// FormatAccount renders addr as a bech32 string under AccountPrefix.
func FormatAccount(addr common.Address) (string, error) {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(AccountPrefix, conv)
}

// ParseAccount accepts a 0x hex address or a bech32 string carrying
// AccountPrefix.
func ParseAccount(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw), nil
	}
	prefix, data, err := bech32.Decode(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if prefix != AccountPrefix {
		return common.Address{}, fmt.Errorf("%w: prefix %q", ErrInvalidAccount, prefix)
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if len(conv) != common.AddressLength {
		return common.Address{}, fmt.Errorf("%w: %d bytes", ErrInvalidAccount, len(conv))
	}
	return common.BytesToAddress(conv), nil
}
