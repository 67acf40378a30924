package cdp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
)

// Config captures the protocol parameters of the CDP module as they appear in
// the operator TOML file. Ratios and amounts are decimal strings ("1.1",
// "200") converted to 18-decimal fixed point by Params.
type Config struct {
	MCR                        string          `toml:"MCR"`
	CCR                        string          `toml:"CCR"`
	GasCompensation            string          `toml:"GasCompensation"`
	MinNetDebt                 string          `toml:"MinNetDebt"`
	CollGasCompensationDivisor uint64          `toml:"CollGasCompensationDivisor"`
	BorrowingFeeFloor          string          `toml:"BorrowingFeeFloor"`
	MaxBorrowingFee            string          `toml:"MaxBorrowingFee"`
	RedemptionFeeFloor         string          `toml:"RedemptionFeeFloor"`
	MinuteDecayFactor          string          `toml:"MinuteDecayFactor"`
	RedemptionBeta             uint64          `toml:"RedemptionBeta"`
	IssuanceBeta               uint64          `toml:"IssuanceBeta"`
	MaxTroves                  uint64          `toml:"MaxTroves"`
	Issuance                   IssuanceConfig  `toml:"issuance"`
	Pauses                     map[string]bool `toml:"pauses"`
}

// IssuanceConfig shapes the reward emission credited to Stability Pool
// depositors on every offset.
type IssuanceConfig struct {
	SupplyCap      string `toml:"SupplyCap"`
	IssuanceFactor string `toml:"IssuanceFactor"`
}

// Params is the parsed, fixed-point form of Config used by the engine.
type Params struct {
	MCR                        *uint256.Int
	CCR                        *uint256.Int
	GasCompensation            *uint256.Int
	MinNetDebt                 *uint256.Int
	CollGasCompensationDivisor uint64
	BorrowingFeeFloor          *uint256.Int
	MaxBorrowingFee            *uint256.Int
	RedemptionFeeFloor         *uint256.Int
	MinuteDecayFactor          *uint256.Int
	RedemptionBeta             uint64
	IssuanceBeta               uint64
	MaxTroves                  uint64
	IssuanceSupplyCap          *uint256.Int
	IssuanceFactor             *uint256.Int
}

// DefaultConfig mirrors the reference deployment: MCR 110%, CCR 150%, 200
// stablecoin gas reserve, 1800 minimum net debt and a 12 hour base-rate
// half-life.
func DefaultConfig() Config {
	return Config{
		MCR:                        "1.1",
		CCR:                        "1.5",
		GasCompensation:            "200",
		MinNetDebt:                 "1800",
		CollGasCompensationDivisor: 200,
		BorrowingFeeFloor:          "0.005",
		MaxBorrowingFee:            "0.05",
		RedemptionFeeFloor:         "0.005",
		MinuteDecayFactor:          "0.999037758833783",
		RedemptionBeta:             2,
		IssuanceBeta:               4,
		Issuance: IssuanceConfig{
			SupplyCap:      "32000000",
			IssuanceFactor: "0.999998681227695",
		},
	}
}

// DefaultParams returns the parsed DefaultConfig.
func DefaultParams() Params {
	params, err := DefaultConfig().Params()
	if err != nil {
		panic(fmt.Sprintf("cdp: default config invalid: %v", err))
	}
	return params
}

// LoadConfig decodes a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("cdp: config path required")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("cdp: decode config: %w", err)
	}
	cfg.EnsureDefaults()
	if _, err := cfg.Params(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefaults fills empty fields from DefaultConfig so partial files stay valid.
func (c *Config) EnsureDefaults() {
	def := DefaultConfig()
	fill := func(dst *string, fallback string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = fallback
		}
	}
	fill(&c.MCR, def.MCR)
	fill(&c.CCR, def.CCR)
	fill(&c.GasCompensation, def.GasCompensation)
	fill(&c.MinNetDebt, def.MinNetDebt)
	fill(&c.BorrowingFeeFloor, def.BorrowingFeeFloor)
	fill(&c.MaxBorrowingFee, def.MaxBorrowingFee)
	fill(&c.RedemptionFeeFloor, def.RedemptionFeeFloor)
	fill(&c.MinuteDecayFactor, def.MinuteDecayFactor)
	fill(&c.Issuance.SupplyCap, def.Issuance.SupplyCap)
	fill(&c.Issuance.IssuanceFactor, def.Issuance.IssuanceFactor)
	if c.CollGasCompensationDivisor == 0 {
		c.CollGasCompensationDivisor = def.CollGasCompensationDivisor
	}
	if c.RedemptionBeta == 0 {
		c.RedemptionBeta = def.RedemptionBeta
	}
}

// Params parses and validates the configuration.
func (c Config) Params() (Params, error) {
	var (
		p   Params
		err error
	)
	parse := func(name, value string) *uint256.Int {
		if err != nil {
			return nil
		}
		v, perr := ParseDecimal(value)
		if perr != nil {
			err = fmt.Errorf("cdp: %s: %w", name, perr)
			return nil
		}
		return v
	}
	p.MCR = parse("MCR", c.MCR)
	p.CCR = parse("CCR", c.CCR)
	p.GasCompensation = parse("GasCompensation", c.GasCompensation)
	p.MinNetDebt = parse("MinNetDebt", c.MinNetDebt)
	p.BorrowingFeeFloor = parse("BorrowingFeeFloor", c.BorrowingFeeFloor)
	p.MaxBorrowingFee = parse("MaxBorrowingFee", c.MaxBorrowingFee)
	p.RedemptionFeeFloor = parse("RedemptionFeeFloor", c.RedemptionFeeFloor)
	p.MinuteDecayFactor = parse("MinuteDecayFactor", c.MinuteDecayFactor)
	p.IssuanceSupplyCap = parse("issuance.SupplyCap", c.Issuance.SupplyCap)
	p.IssuanceFactor = parse("issuance.IssuanceFactor", c.Issuance.IssuanceFactor)
	if err != nil {
		return Params{}, err
	}
	p.CollGasCompensationDivisor = c.CollGasCompensationDivisor
	p.RedemptionBeta = c.RedemptionBeta
	p.IssuanceBeta = c.IssuanceBeta
	p.MaxTroves = c.MaxTroves
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the relationships between parameters.
func (p Params) Validate() error {
	switch {
	case p.MCR == nil || p.CCR == nil || p.GasCompensation == nil || p.MinNetDebt == nil:
		return errors.New("cdp: incomplete params")
	case p.MCR.Cmp(DecimalPrecision) <= 0:
		return errors.New("cdp: MCR must exceed 100%")
	case p.CCR.Lt(p.MCR):
		return errors.New("cdp: CCR must not be below MCR")
	case p.MinNetDebt.IsZero():
		return errors.New("cdp: MinNetDebt must be positive")
	case p.CollGasCompensationDivisor == 0:
		return errors.New("cdp: CollGasCompensationDivisor must be positive")
	case p.RedemptionBeta == 0:
		return errors.New("cdp: RedemptionBeta must be positive")
	case p.BorrowingFeeFloor.Gt(p.MaxBorrowingFee):
		return errors.New("cdp: BorrowingFeeFloor exceeds MaxBorrowingFee")
	case p.MaxBorrowingFee.Gt(DecimalPrecision), p.RedemptionFeeFloor.Gt(DecimalPrecision):
		return errors.New("cdp: fee fractions must not exceed 100%")
	case p.MinuteDecayFactor.IsZero() || !p.MinuteDecayFactor.Lt(DecimalPrecision):
		return errors.New("cdp: MinuteDecayFactor must be within (0, 1)")
	case p.IssuanceFactor == nil || p.IssuanceFactor.Gt(DecimalPrecision):
		return errors.New("cdp: IssuanceFactor must not exceed 1")
	}
	return nil
}

// PausedModules returns the module names flagged as paused in the config.
func (c Config) PausedModules() map[string]bool {
	out := make(map[string]bool, len(c.Pauses))
	for name, paused := range c.Pauses {
		if paused {
			out[strings.TrimSpace(name)] = true
		}
	}
	return out
}
