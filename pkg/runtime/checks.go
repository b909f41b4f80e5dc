package runtime

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/ninja0404/ctxgen/pkg/constants"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// CheckSigner fails unless the account signed the transaction.
func CheckSigner(a *AccountInfo, name string) error {
	if !a.IsSigner() {
		return types.ErrConstraintSigner.WithAccount(name)
	}
	return nil
}

// CheckWritable fails unless the account was passed writable.
func CheckWritable(a *AccountInfo, name string) error {
	if !a.IsWritable() {
		return types.ErrConstraintMut.WithAccount(name)
	}
	return nil
}

// CheckOwner fails unless owner owns the account.
func CheckOwner(a *AccountInfo, owner solana.PublicKey, name string) error {
	if !a.IsOwnedBy(owner) {
		return types.ErrConstraintOwner.WithAccount(name)
	}
	return nil
}

// CheckAccount validates a typed program account: initialized, owned by
// owner and starting with disc.
func CheckAccount(a *AccountInfo, owner solana.PublicKey, disc []byte, name string) error {
	if a.IsOwnedBy(constants.SystemProgramID) && a.Lamports() == 0 {
		return types.ErrAccountNotInitialized.WithAccount(name)
	}
	if !a.IsOwnedBy(owner) {
		return types.ErrAccountOwnedByWrongProgram.WithAccount(name)
	}
	ref, err := a.TryBorrow()
	if err != nil {
		return types.ErrAccountBorrowFailed.WithAccount(name)
	}
	defer ref.Release()
	if len(ref.Data()) < len(disc) {
		return types.ErrAccountDiscriminatorNotFound.WithAccount(name)
	}
	if !DiscriminatorMatches(disc, ref.Data()) {
		return types.ErrAccountDiscriminatorMismatch.WithAccount(name)
	}
	return nil
}

// CheckSystemAccount fails unless the system program owns the account.
func CheckSystemAccount(a *AccountInfo, name string) error {
	if !a.IsOwnedBy(constants.SystemProgramID) {
		return types.ErrAccountNotSystemOwned.WithAccount(name)
	}
	return nil
}

// CheckProgram fails unless the account is the executable program id.
func CheckProgram(a *AccountInfo, id solana.PublicKey, name string) error {
	if a.Key() != id {
		return types.ErrInvalidProgramID.WithAccount(name)
	}
	if !a.Executable() {
		return types.ErrInvalidProgramExecutable.WithAccount(name)
	}
	return nil
}

// CheckTokenProgram accepts either token program.
func CheckTokenProgram(a *AccountInfo, name string) error {
	if a.Key() != constants.TokenProgramID && a.Key() != constants.Token2022ProgramID {
		return types.ErrInvalidProgramID.WithAccount(name)
	}
	if !a.Executable() {
		return types.ErrInvalidProgramExecutable.WithAccount(name)
	}
	return nil
}

func isTokenOwned(a *AccountInfo) bool {
	return a.IsOwnedBy(constants.TokenProgramID) || a.IsOwnedBy(constants.Token2022ProgramID)
}

// LoadTokenAccount validates and decodes a token account.
func LoadTokenAccount(a *AccountInfo, name string) (*token.Account, error) {
	if a.IsOwnedBy(constants.SystemProgramID) && a.Lamports() == 0 {
		return nil, types.ErrAccountNotInitialized.WithAccount(name)
	}
	if !isTokenOwned(a) {
		return nil, types.ErrAccountOwnedByWrongProgram.WithAccount(name)
	}
	out, err := DecodeTokenAccount(a)
	if err != nil {
		return nil, types.ErrAccountDidNotDeserialize.WithAccount(name)
	}
	return out, nil
}

// LoadMint validates and decodes a mint.
func LoadMint(a *AccountInfo, name string) (*token.Mint, error) {
	if a.IsOwnedBy(constants.SystemProgramID) && a.Lamports() == 0 {
		return nil, types.ErrAccountNotInitialized.WithAccount(name)
	}
	if !isTokenOwned(a) {
		return nil, types.ErrAccountOwnedByWrongProgram.WithAccount(name)
	}
	out, err := DecodeMint(a)
	if err != nil {
		return nil, types.ErrAccountDidNotDeserialize.WithAccount(name)
	}
	return out, nil
}

// CheckAssociatedToken verifies a token account is the associated token
// account of authority for mint under the token program owning it.
func CheckAssociatedToken(a *AccountInfo, state *token.Account, authority, mint solana.PublicKey, name string) error {
	if state.Owner != authority {
		return types.ErrConstraintAssociatedTokenAuthority.WithAccount(name)
	}
	if state.Mint != mint {
		return types.ErrConstraintTokenMint.WithAccount(name)
	}
	expected, _, err := AssociatedTokenAddress(authority, mint, a.Owner())
	if err != nil || expected != a.Key() {
		return types.ErrAccountNotAssociatedToken.WithAccount(name)
	}
	return nil
}

// Require returns err, annotated with name, unless cond holds.
func Require(cond bool, err *types.ProgramError, name string) error {
	if !cond {
		return err.WithAccount(name)
	}
	return nil
}

// RequireKeysEqual returns err, annotated with name, unless got == want.
func RequireKeysEqual(got, want solana.PublicKey, err *types.ProgramError, name string) error {
	return Require(got == want, err, name)
}

// OptionalKey returns the key behind a COption field, or the default address.
func OptionalKey(k *solana.PublicKey) solana.PublicKey {
	if k == nil {
		return solana.PublicKey{}
	}
	return *k
}

// IsDefaultAddress reports whether an optional account slot was left empty.
func IsDefaultAddress(a *AccountInfo) bool {
	return a.Key().IsZero()
}

// NeedsInit reports whether an init_if_needed account has not been created
// yet: it is still owned by the default (system) address.
func NeedsInit(a *AccountInfo) bool {
	return a.IsOwnedBy(solana.PublicKey{})
}
