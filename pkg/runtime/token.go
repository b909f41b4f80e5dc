package runtime

import (
	"bytes"
	"errors"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/ninja0404/ctxgen/pkg/constants"
)

// Token program errors
var (
	ErrAlreadyInitialized = errors.New("token: account or mint already initialized")
	ErrInvalidMint        = errors.New("token: invalid mint")
	ErrInvalidAccountData = errors.New("token: invalid account data")
)

// tokenProcessor covers the initialization instructions of the token
// program. Token-2022 shares the base layouts, so the same processor serves
// both ids.
type tokenProcessor struct {
	id solana.PublicKey
}

func (p tokenProcessor) Process(inv *Invocation, data []byte) error {
	metas := make([]*solana.AccountMeta, len(inv.accounts))
	for i, a := range inv.accounts {
		metas[i] = solana.NewAccountMeta(a.Key(), a.IsWritable(), inv.IsSigner(i))
	}
	inst, err := token.DecodeInstruction(metas, data)
	if err != nil {
		return ErrInvalidInstructionData
	}
	switch ix := inst.Impl.(type) {
	case *token.InitializeAccount3:
		return p.initializeAccount(inv, *ix.Owner)
	case *token.InitializeMint2:
		return p.initializeMint(inv, *ix.Decimals, *ix.MintAuthority, ix.FreezeAuthority)
	default:
		return ErrInvalidInstructionData
	}
}

func (p tokenProcessor) initializeAccount(inv *Invocation, owner solana.PublicKey) error {
	acct, err := inv.Account(0)
	if err != nil {
		return err
	}
	mintAcct, err := inv.Account(1)
	if err != nil {
		return err
	}
	if !acct.IsOwnedBy(p.id) {
		return ErrInvalidAccountOwner
	}
	if acct.DataLen() != constants.TokenAccountSize {
		return ErrInvalidAccountData
	}
	if !acct.IsZeroed() {
		return ErrAlreadyInitialized
	}
	if !mintAcct.IsOwnedBy(p.id) {
		return ErrInvalidMint
	}
	if _, err := DecodeMint(mintAcct); err != nil {
		return ErrInvalidMint
	}

	state := token.Account{
		Mint:  mintAcct.Key(),
		Owner: owner,
		State: token.Initialized,
	}
	if err := writeTokenState(acct, state); err != nil {
		return err
	}
	inv.Env.Msg("InitializeAccount3: %s mint=%s owner=%s", acct.Key(), mintAcct.Key(), owner)
	return nil
}

func (p tokenProcessor) initializeMint(inv *Invocation, decimals uint8, authority solana.PublicKey, freeze *solana.PublicKey) error {
	mintAcct, err := inv.Account(0)
	if err != nil {
		return err
	}
	if !mintAcct.IsOwnedBy(p.id) {
		return ErrInvalidAccountOwner
	}
	if mintAcct.DataLen() != constants.MintSize {
		return ErrInvalidAccountData
	}
	if !mintAcct.IsZeroed() {
		return ErrAlreadyInitialized
	}
	state := token.Mint{
		MintAuthority:   authority.ToPointer(),
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freeze,
	}
	if err := writeTokenState(mintAcct, state); err != nil {
		return err
	}
	inv.Env.Msg("InitializeMint2: %s decimals=%d", mintAcct.Key(), decimals)
	return nil
}

func writeTokenState(acct *AccountInfo, v interface{}) error {
	buf := new(bytes.Buffer)
	if err := bin.NewBinEncoder(buf).Encode(v); err != nil {
		return err
	}
	ref, err := acct.TryBorrowMut()
	if err != nil {
		return err
	}
	defer ref.Release()
	copy(ref.Data(), buf.Bytes())
	return nil
}

// DecodeTokenAccount reads an initialized token account.
func DecodeTokenAccount(acct *AccountInfo) (*token.Account, error) {
	ref, err := acct.TryBorrow()
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	if len(ref.Data()) != constants.TokenAccountSize {
		return nil, ErrInvalidAccountData
	}
	var out token.Account
	if err := bin.NewBinDecoder(ref.Data()).Decode(&out); err != nil {
		return nil, err
	}
	if out.State == token.Uninitialized {
		return nil, ErrInvalidAccountData
	}
	return &out, nil
}

// DecodeMint reads an initialized mint.
func DecodeMint(acct *AccountInfo) (*token.Mint, error) {
	ref, err := acct.TryBorrow()
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	if len(ref.Data()) != constants.MintSize {
		return nil, ErrInvalidAccountData
	}
	var out token.Mint
	if err := bin.NewBinDecoder(ref.Data()).Decode(&out); err != nil {
		return nil, err
	}
	if !out.IsInitialized {
		return nil, ErrInvalidAccountData
	}
	return &out, nil
}
