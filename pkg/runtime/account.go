// Package runtime holds the account model and the validation primitives that
// generated context routines call.
package runtime

import (
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/ninja0404/ctxgen/pkg/types"
)

// AccountInfo is one account passed to an instruction. Data access goes
// through TryBorrow and TryBorrowMut, which enforce a single writer or many
// readers at runtime.
type AccountInfo struct {
	key        solana.PublicKey
	owner      solana.PublicKey
	lamports   uint64
	data       []byte
	signer     bool
	writable   bool
	executable bool

	readers int
	writer  bool
}

// NewAccountInfo builds an account. data is owned by the account afterwards.
func NewAccountInfo(key, owner solana.PublicKey, lamports uint64, data []byte, signer, writable bool) *AccountInfo {
	return &AccountInfo{
		key:      key,
		owner:    owner,
		lamports: lamports,
		data:     data,
		signer:   signer,
		writable: writable,
	}
}

// NewProgramAccount builds the executable account of a program.
func NewProgramAccount(id solana.PublicKey) *AccountInfo {
	return &AccountInfo{
		key:        id,
		owner:      solana.BPFLoaderUpgradeableProgramID,
		lamports:   1,
		executable: true,
	}
}

// Key returns the address. A nil account has the default address.
func (a *AccountInfo) Key() solana.PublicKey {
	if a == nil {
		return solana.PublicKey{}
	}
	return a.key
}

func (a *AccountInfo) Owner() solana.PublicKey {
	return a.owner
}

func (a *AccountInfo) Lamports() uint64 {
	return a.lamports
}

func (a *AccountInfo) DataLen() int {
	return len(a.data)
}

func (a *AccountInfo) IsSigner() bool {
	return a.signer
}

func (a *AccountInfo) IsWritable() bool {
	return a.writable
}

func (a *AccountInfo) Executable() bool {
	return a.executable
}

// IsOwnedBy reports whether program owns the account.
func (a *AccountInfo) IsOwnedBy(program solana.PublicKey) bool {
	return a.owner == program
}

// IsZeroed reports whether the data buffer is empty or all zero.
func (a *AccountInfo) IsZeroed() bool {
	for _, b := range a.data {
		if b != 0 {
			return false
		}
	}
	return true
}

// Assign changes the owner.
func (a *AccountInfo) Assign(owner solana.PublicKey) {
	a.owner = owner
}

// Resize reallocates the data buffer, zero filled. It fails while any borrow
// is live.
func (a *AccountInfo) Resize(n int) error {
	if a.readers > 0 || a.writer {
		return types.ErrAccountBorrowFailed
	}
	if n <= cap(a.data) {
		old := len(a.data)
		a.data = a.data[:n]
		for i := old; i < n; i++ {
			a.data[i] = 0
		}
		return nil
	}
	buf := make([]byte, n)
	copy(buf, a.data)
	a.data = buf
	return nil
}

// AddLamports credits n lamports.
func (a *AccountInfo) AddLamports(n uint64) error {
	if a.lamports > math.MaxUint64-n {
		return types.ErrArithmeticOverflow
	}
	a.lamports += n
	return nil
}

// SubLamports debits n lamports.
func (a *AccountInfo) SubLamports(n uint64) error {
	if n > a.lamports {
		return types.ErrArithmeticOverflow
	}
	a.lamports -= n
	return nil
}

// Ref is a shared borrow of account data.
type Ref struct {
	acct *AccountInfo
}

// Data returns the borrowed bytes. They must not be retained after Release.
func (r *Ref) Data() []byte {
	if r == nil || r.acct == nil {
		return nil
	}
	return r.acct.data
}

// Release ends the borrow. Calling it twice is a no-op.
func (r *Ref) Release() {
	if r == nil || r.acct == nil {
		return
	}
	r.acct.readers--
	r.acct = nil
}

// RefMut is an exclusive borrow of account data.
type RefMut struct {
	acct *AccountInfo
}

func (r *RefMut) Data() []byte {
	if r == nil || r.acct == nil {
		return nil
	}
	return r.acct.data
}

// Release ends the borrow. Calling it twice is a no-op.
func (r *RefMut) Release() {
	if r == nil || r.acct == nil {
		return
	}
	r.acct.writer = false
	r.acct = nil
}

// TryBorrow takes a shared borrow. It fails while a writer holds the data.
func (a *AccountInfo) TryBorrow() (*Ref, error) {
	if a.writer {
		return nil, types.ErrAccountBorrowFailed
	}
	a.readers++
	return &Ref{acct: a}, nil
}

// TryBorrowMut takes an exclusive borrow. It fails while any borrow is live.
func (a *AccountInfo) TryBorrowMut() (*RefMut, error) {
	if a.writer || a.readers > 0 {
		return nil, types.ErrAccountBorrowFailed
	}
	a.writer = true
	return &RefMut{acct: a}, nil
}

// Snapshot copies the data buffer without borrowing. Used by tooling and tests.
func (a *AccountInfo) Snapshot() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}
