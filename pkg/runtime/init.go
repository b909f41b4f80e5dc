package runtime

import (
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/ninja0404/ctxgen/pkg/constants"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// CreateAccount allocates space bytes for target, funds it to the rent-exempt
// minimum from payer and assigns it to owner. An account that already holds
// lamports is topped up by the shortfall only, then allocated and assigned.
// signerSeeds, when set, are the seeds (bump included) of a program derived
// target.
func CreateAccount(env *Env, payer, target *AccountInfo, space uint64, owner solana.PublicKey, signerSeeds [][]byte) error {
	pool := []*AccountInfo{payer, target}
	required := env.Rent.MinimumBalance(space)
	current := target.Lamports()

	if current == 0 {
		ix := system.NewCreateAccountInstruction(required, space, owner, payer.Key(), target.Key()).Build()
		return env.Invoke(ix, pool, signerSeeds)
	}

	if required > current {
		ix := system.NewTransferInstruction(required-current, payer.Key(), target.Key()).Build()
		if err := env.Invoke(ix, pool); err != nil {
			return err
		}
	}
	if err := env.Invoke(system.NewAllocateInstruction(space, target.Key()).Build(), pool, signerSeeds); err != nil {
		return err
	}
	return env.Invoke(system.NewAssignInstruction(owner, target.Key()).Build(), pool, signerSeeds)
}

// InitTokenAccount creates target as a token account of mint held by owner.
// pool must contain the mint account.
func InitTokenAccount(env *Env, pool []*AccountInfo, payer, target *AccountInfo, mint, owner, tokenProgram solana.PublicKey, signerSeeds [][]byte) error {
	if err := CreateAccount(env, payer, target, constants.TokenAccountSize, tokenProgram, signerSeeds); err != nil {
		return err
	}
	ix, err := retarget(token.NewInitializeAccount3Instruction(owner, target.Key(), mint).Build(), tokenProgram)
	if err != nil {
		return err
	}
	return env.Invoke(ix, pool)
}

// InitMint creates target as a mint.
func InitMint(env *Env, payer, target *AccountInfo, decimals uint8, authority solana.PublicKey, freeze *solana.PublicKey, tokenProgram solana.PublicKey, signerSeeds [][]byte) error {
	if err := CreateAccount(env, payer, target, constants.MintSize, tokenProgram, signerSeeds); err != nil {
		return err
	}
	b := token.NewInitializeMint2InstructionBuilder().
		SetDecimals(decimals).
		SetMintAuthority(authority).
		SetMintAccount(target.Key())
	if freeze != nil {
		b.SetFreezeAuthority(*freeze)
	}
	ix, err := retarget(b.Build(), tokenProgram)
	if err != nil {
		return err
	}
	return env.Invoke(ix, []*AccountInfo{target})
}

// InitAssociatedToken creates target as the associated token account of
// authority for mint. pool must contain the authority, mint, system program
// and token program accounts.
func InitAssociatedToken(env *Env, pool []*AccountInfo, payer, target *AccountInfo, authority, mint, tokenProgram solana.PublicKey, name string) error {
	expected, _, err := AssociatedTokenAddress(authority, mint, tokenProgram)
	if err != nil || expected != target.Key() {
		return types.ErrConstraintAssociatedTokenAddress.WithAccount(name)
	}
	create := associatedtokenaccount.NewCreateInstructionBuilder().
		SetPayer(payer.Key()).
		SetWallet(authority).
		SetMint(mint).
		Build()
	metas := create.Accounts()
	metas[1].PublicKey = target.Key()
	metas[5].PublicKey = tokenProgram
	// The builder lists the rent sysvar, which contexts never declare.
	pool = append(pool[:len(pool):len(pool)], NewAccountInfo(solana.SysVarRentPubkey, constants.SysvarOwnerID, 1, nil, false, false))
	return env.Invoke(solana.NewInstruction(constants.AssociatedTokenProgramID, metas, nil), pool)
}

// WriteDiscriminator stamps disc at the start of a freshly created account.
func WriteDiscriminator(a *AccountInfo, disc []byte, name string) error {
	ref, err := a.TryBorrowMut()
	if err != nil {
		return types.ErrAccountBorrowFailed.WithAccount(name)
	}
	defer ref.Release()
	data := ref.Data()
	if len(data) < len(disc) {
		return types.ErrAccountDiscriminatorNotFound.WithAccount(name)
	}
	for _, b := range data[:len(disc)] {
		if b != 0 {
			return types.ErrAccountDiscriminatorAlreadySet.WithAccount(name)
		}
	}
	copy(data, disc)
	return nil
}
