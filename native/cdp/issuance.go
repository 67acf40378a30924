package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// cumulativeIssuanceFraction is 1 - IssuanceFactor^minutes since deployment.
func (s *SystemState) cumulativeIssuanceFraction(now int64, p *Params) *uint256.Int {
	var minutes uint64
	if now > s.issuance.deploymentTime {
		minutes = uint64(now-s.issuance.deploymentTime) / secondsPerMinute
	}
	power := DecPow(p.IssuanceFactor, minutes)
	return subFloor(DecimalPrecision, power)
}

// issue advances the cumulative emission to now and returns the new tranche.
func (s *SystemState) issue(now int64, p *Params) *uint256.Int {
	if p.IssuanceSupplyCap == nil || p.IssuanceSupplyCap.IsZero() {
		return new(uint256.Int)
	}
	latest := mulDiv(p.IssuanceSupplyCap, s.cumulativeIssuanceFraction(now, p), DecimalPrecision)
	tranche := subFloor(latest, &s.issuance.totalIssued)
	if latest.Gt(&s.issuance.totalIssued) {
		s.issuance.totalIssued = *latest
	}
	return tranche
}

func (s *SystemState) creditIssuance(addr common.Address, amount *uint256.Int) {
	addBalance(s.issuance.credited, addr, amount)
}

// debitIssuance takes amount out of the credited balance of addr.
func (s *SystemState) debitIssuance(addr common.Address, amount *uint256.Int) error {
	bal, ok := s.issuance.credited[addr]
	if !ok || bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	if bal.IsZero() {
		delete(s.issuance.credited, addr)
	}
	return nil
}

func (s *SystemState) issuanceBalance(addr common.Address) *uint256.Int {
	if bal, ok := s.issuance.credited[addr]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}
