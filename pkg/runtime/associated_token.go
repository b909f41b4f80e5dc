package runtime

import (
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/ninja0404/ctxgen/pkg/constants"
	"github.com/ninja0404/ctxgen/pkg/types"
)

type associatedTokenProcessor struct{}

// Process handles Create. Account order: payer, associated account, wallet,
// mint, system program, token program.
func (p associatedTokenProcessor) Process(inv *Invocation, data []byte) error {
	if len(data) != 0 {
		return ErrInvalidInstructionData
	}
	metas := make([]*solana.AccountMeta, len(inv.accounts))
	for i, a := range inv.accounts {
		metas[i] = solana.NewAccountMeta(a.Key(), a.IsWritable(), inv.IsSigner(i))
	}
	create := associatedtokenaccount.NewCreateInstructionBuilder()
	if err := create.SetAccounts(metas); err != nil {
		return ErrNotEnoughAccountKeys
	}

	payer := inv.accounts[0]
	ata := inv.accounts[1]
	tokenProgram := inv.accounts[5].Key()

	expected, bump, err := AssociatedTokenAddress(create.Wallet, create.Mint, tokenProgram)
	if err != nil {
		return err
	}
	// Callers check the address under the account's name first.
	if ata.Key() != expected {
		return types.ErrConstraintAssociatedTokenAddress
	}
	if !ata.IsOwnedBy(constants.SystemProgramID) {
		return ErrAccountAlreadyInUse
	}

	seeds := [][]byte{create.Wallet[:], tokenProgram[:], create.Mint[:], {bump}}
	space := uint64(constants.TokenAccountSize)
	lamports := inv.Env.Rent.MinimumBalance(space)
	if err := inv.Invoke(system.NewCreateAccountInstruction(lamports, space, tokenProgram, payer.Key(), ata.Key()).Build(), seeds); err != nil {
		return err
	}
	initIx, err := retarget(token.NewInitializeAccount3Instruction(create.Wallet, ata.Key(), create.Mint).Build(), tokenProgram)
	if err != nil {
		return err
	}
	return inv.Invoke(initIx)
}

// AssociatedTokenAddress derives the associated token account of wallet for
// mint under the given token program.
func AssociatedTokenAddress(wallet, mint, tokenProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{wallet[:], tokenProgram[:], mint[:]},
		constants.AssociatedTokenProgramID,
	)
}

// retarget re-addresses an instruction built for the legacy token program.
func retarget(ix solana.Instruction, program solana.PublicKey) (solana.Instruction, error) {
	if ix.ProgramID() == program {
		return ix, nil
	}
	data, err := ix.Data()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(program, ix.Accounts(), data), nil
}
