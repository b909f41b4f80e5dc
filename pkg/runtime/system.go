package runtime

import (
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/ninja0404/ctxgen/pkg/constants"
)

// MaxAccountDataSize bounds a single allocation.
const MaxAccountDataSize = 10 * 1024 * 1024

// System program errors
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountDataTooLarge      = errors.New("account data too large")
)

type systemProcessor struct{}

func (p systemProcessor) Process(inv *Invocation, data []byte) error {
	metas := make([]*solana.AccountMeta, len(inv.accounts))
	for i, a := range inv.accounts {
		metas[i] = solana.NewAccountMeta(a.Key(), a.IsWritable(), inv.IsSigner(i))
	}
	inst, err := system.DecodeInstruction(metas, data)
	if err != nil {
		return ErrInvalidInstructionData
	}
	switch ix := inst.Impl.(type) {
	case *system.CreateAccount:
		return p.createAccount(inv, *ix.Lamports, *ix.Space, *ix.Owner)
	case *system.Transfer:
		return p.transfer(inv, *ix.Lamports)
	case *system.Allocate:
		return p.allocate(inv, *ix.Space)
	case *system.Assign:
		return p.assign(inv, *ix.Owner)
	default:
		return ErrInvalidInstructionData
	}
}

func (p systemProcessor) createAccount(inv *Invocation, lamports, space uint64, owner solana.PublicKey) error {
	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	funder, err := inv.Account(0)
	if err != nil {
		return err
	}
	newAccount, err := inv.Account(1)
	if err != nil {
		return err
	}
	if !inv.IsSigner(0) || !inv.IsSigner(1) {
		return ErrMissingRequiredSignature
	}
	if funder.Lamports() < lamports {
		return ErrInsufficientFunds
	}
	// A new account is system owned, empty and unfunded.
	if !newAccount.IsOwnedBy(constants.SystemProgramID) || newAccount.DataLen() > 0 || newAccount.Lamports() > 0 {
		return ErrAccountAlreadyInUse
	}
	if lamports < inv.Env.Rent.MinimumBalance(space) {
		return ErrAccountNotRentExempt
	}

	if err := funder.SubLamports(lamports); err != nil {
		return err
	}
	if err := newAccount.AddLamports(lamports); err != nil {
		return err
	}
	if err := newAccount.Resize(int(space)); err != nil {
		return err
	}
	newAccount.Assign(owner)
	inv.Env.Msg("CreateAccount: %s space=%d lamports=%d", newAccount.Key(), space, lamports)
	return nil
}

func (p systemProcessor) transfer(inv *Invocation, lamports uint64) error {
	from, err := inv.Account(0)
	if err != nil {
		return err
	}
	to, err := inv.Account(1)
	if err != nil {
		return err
	}
	if !inv.IsSigner(0) {
		return ErrMissingRequiredSignature
	}
	if !from.IsOwnedBy(constants.SystemProgramID) || from.DataLen() > 0 {
		return ErrInvalidAccountOwner
	}
	if from.Lamports() < lamports {
		return ErrInsufficientFunds
	}
	if err := from.SubLamports(lamports); err != nil {
		return err
	}
	if err := to.AddLamports(lamports); err != nil {
		return err
	}
	inv.Env.Msg("Transfer: %d lamports %s -> %s", lamports, from.Key(), to.Key())
	return nil
}

func (p systemProcessor) allocate(inv *Invocation, space uint64) error {
	acct, err := inv.Account(0)
	if err != nil {
		return err
	}
	if !inv.IsSigner(0) {
		return ErrMissingRequiredSignature
	}
	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	if !acct.IsOwnedBy(constants.SystemProgramID) || acct.DataLen() > 0 {
		return ErrAccountAlreadyInUse
	}
	if err := acct.Resize(int(space)); err != nil {
		return err
	}
	inv.Env.Msg("Allocate: %s space=%d", acct.Key(), space)
	return nil
}

func (p systemProcessor) assign(inv *Invocation, owner solana.PublicKey) error {
	acct, err := inv.Account(0)
	if err != nil {
		return err
	}
	if acct.IsOwnedBy(owner) {
		return nil
	}
	if !inv.IsSigner(0) {
		return ErrMissingRequiredSignature
	}
	if !acct.IsOwnedBy(constants.SystemProgramID) {
		return ErrInvalidAccountOwner
	}
	acct.Assign(owner)
	inv.Env.Msg("Assign: %s -> %s", acct.Key(), owner)
	return nil
}
