package runtime

import (
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/ninja0404/ctxgen/pkg/constants"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// Rent computes rent-exempt minimum balances.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent matches the cluster rent sysvar.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: constants.LamportsPerByteYear,
		ExemptionYears:      constants.ExemptionYears,
	}
}

// MinimumBalance returns the lamports an account of space bytes needs to be
// rent exempt.
func (r Rent) MinimumBalance(space uint64) uint64 {
	return (constants.AccountStorageOverhead + space) * r.LamportsPerByteYear * r.ExemptionYears
}

// Processor executes instructions addressed to one program.
type Processor interface {
	Process(inv *Invocation, data []byte) error
}

// Env is the execution environment of one instruction: the running program,
// rent parameters, the programs reachable through cross-program invocation
// and the instruction log.
type Env struct {
	ProgramID solana.PublicKey
	Rent      Rent
	Log       zerolog.Logger

	programs map[solana.PublicKey]Processor
	logs     []string
	depth    int
}

// EnvOption customizes an Env.
type EnvOption func(*Env)

// WithLogger routes program logs to log at debug level.
func WithLogger(log zerolog.Logger) EnvOption {
	return func(e *Env) { e.Log = log }
}

// WithRent overrides rent parameters.
func WithRent(r Rent) EnvOption {
	return func(e *Env) { e.Rent = r }
}

// WithProcessor registers an additional program.
func WithProcessor(id solana.PublicKey, p Processor) EnvOption {
	return func(e *Env) { e.programs[id] = p }
}

// NewEnv builds an environment with the system, token, token-2022 and
// associated token programs registered.
func NewEnv(programID solana.PublicKey, opts ...EnvOption) *Env {
	e := &Env{
		ProgramID: programID,
		Rent:      DefaultRent(),
		Log:       zerolog.New(io.Discard),
		programs:  map[solana.PublicKey]Processor{},
	}
	e.programs[constants.SystemProgramID] = systemProcessor{}
	e.programs[constants.TokenProgramID] = tokenProcessor{id: constants.TokenProgramID}
	e.programs[constants.Token2022ProgramID] = tokenProcessor{id: constants.Token2022ProgramID}
	e.programs[constants.AssociatedTokenProgramID] = associatedTokenProcessor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Logs returns the program log lines written so far.
func (e *Env) Logs() []string {
	return e.logs
}

// Msg appends a program log line.
func (e *Env) Msg(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	e.logs = append(e.logs, line)
	e.Log.Debug().Int("depth", e.depth).Msg(line)
}

// Fail logs err the way a program reports a failed instruction and returns it.
func (e *Env) Fail(err error) error {
	if err != nil {
		e.Msg("Program %s failed: %v", e.ProgramID, err)
	}
	return err
}

// Invoke runs ix as a cross-program invocation from the current program.
// accounts is the pool the instruction's metas are resolved from. Each
// signer seed list grants signer privilege to the matching program derived
// address of the current program.
func (e *Env) Invoke(ix solana.Instruction, accounts []*AccountInfo, signerSeeds ...[][]byte) error {
	return e.invoke(e.ProgramID, ix, accounts, signerSeeds)
}

func (e *Env) invoke(caller solana.PublicKey, ix solana.Instruction, pool []*AccountInfo, signerSeeds [][][]byte) error {
	program := ix.ProgramID()
	proc, ok := e.programs[program]
	if !ok {
		return fmt.Errorf("invoke: %w", types.ErrInvalidProgramID.WithAccount(program.String()))
	}
	data, err := ix.Data()
	if err != nil {
		return fmt.Errorf("invoke %s: encode: %w", program, err)
	}

	pdaSigners := map[solana.PublicKey]bool{}
	for _, seeds := range signerSeeds {
		if len(seeds) == 0 {
			continue
		}
		addr, err := solana.CreateProgramAddress(seeds, caller)
		if err != nil {
			return types.ErrConstraintSeeds
		}
		pdaSigners[addr] = true
	}

	metas := ix.Accounts()
	inv := &Invocation{
		Env:       e,
		ProgramID: program,
		accounts:  make([]*AccountInfo, len(metas)),
		signers:   make([]bool, len(metas)),
	}
	for i, meta := range metas {
		acct := lookup(pool, meta.PublicKey)
		if acct == nil {
			return types.ErrAccountNotEnoughKeys.WithAccount(meta.PublicKey.String())
		}
		signer := acct.IsSigner() || pdaSigners[meta.PublicKey]
		if meta.IsSigner && !signer {
			return types.ErrAccountNotSigner.WithAccount(meta.PublicKey.String())
		}
		if meta.IsWritable && !acct.IsWritable() {
			return types.ErrAccountNotMutable.WithAccount(meta.PublicKey.String())
		}
		inv.accounts[i] = acct
		inv.signers[i] = meta.IsSigner && signer
	}

	e.depth++
	e.Msg("Program %s invoke [%d]", program, e.depth)
	err = proc.Process(inv, data)
	if err != nil {
		e.Msg("Program %s failed: %v", program, err)
	} else {
		e.Msg("Program %s success", program)
	}
	e.depth--
	return err
}

func lookup(pool []*AccountInfo, key solana.PublicKey) *AccountInfo {
	for _, a := range pool {
		if a != nil && a.key == key {
			return a
		}
	}
	return nil
}

// Invocation is the view a Processor gets of one cross-program call.
type Invocation struct {
	Env       *Env
	ProgramID solana.PublicKey
	accounts  []*AccountInfo
	signers   []bool
}

// Account returns the i-th instruction account.
func (c *Invocation) Account(i int) (*AccountInfo, error) {
	if i < 0 || i >= len(c.accounts) {
		return nil, ErrNotEnoughAccountKeys
	}
	return c.accounts[i], nil
}

// IsSigner reports whether the i-th account signed, directly or through
// program derived address seeds.
func (c *Invocation) IsSigner(i int) bool {
	return i >= 0 && i < len(c.signers) && c.signers[i]
}

// Accounts returns all instruction accounts.
func (c *Invocation) Accounts() []*AccountInfo {
	return c.accounts
}

// Invoke issues a nested call on behalf of the invoked program.
func (c *Invocation) Invoke(ix solana.Instruction, signerSeeds ...[][]byte) error {
	return c.Env.invoke(c.ProgramID, ix, c.accounts, signerSeeds)
}
