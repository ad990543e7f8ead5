package vault

import "errors"

var (
	// ErrInvalidAmount rejects zero or negative amounts before any mutation.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	// ErrInvalidAddress rejects the zero address for any party.
	ErrInvalidAddress = errors.New("vault: zero address")
	// ErrInsufficientShares means the owner holds fewer shares than required.
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	// ErrInsufficientAllowance means the caller lacks delegated shares.
	ErrInsufficientAllowance = errors.New("vault: insufficient share allowance")
	// ErrInsufficientBalance means the vault custody cannot cover a payout.
	ErrInsufficientBalance = errors.New("vault: insufficient underlying balance")
	// ErrInsufficientYield is the recoverable condition for a subsidy request
	// exceeding currently available yield. Callers may retry later.
	ErrInsufficientYield = errors.New("vault: subsidy exceeds available yield")
	// ErrEmptyVault means a withdraw/redeem hit an empty share supply.
	ErrEmptyVault = errors.New("vault: no shares outstanding")
	// ErrNoPosition means the user has never deposited into the vault.
	ErrNoPosition = errors.New("vault: no deposit position")
	// ErrNotConfigured means a required external collaborator is missing.
	ErrNotConfigured = errors.New("vault: external collaborator not configured")
	// ErrNotOwner gates configuration changes to the vault owner.
	ErrNotOwner = errors.New("vault: caller is not the vault owner")
	// ErrInvalidPrice means the oracle reported a non-positive price.
	ErrInvalidPrice = errors.New("vault: oracle returned a non-positive price")
)
