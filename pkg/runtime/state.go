package runtime

import "github.com/ninja0404/ctxgen/pkg/types"

// StateRef is a decoded view of an account's data that keeps a shared borrow
// alive until Release.
type StateRef[T any] struct {
	Value *T
	ref   *Ref
}

// BindState borrows a's data and decodes it with decode.
func BindState[T any](a *AccountInfo, name string, decode func([]byte) (*T, error)) (*StateRef[T], error) {
	ref, err := a.TryBorrow()
	if err != nil {
		return nil, types.ErrAccountBorrowFailed.WithAccount(name)
	}
	v, err := decode(ref.Data())
	if err != nil {
		ref.Release()
		return nil, types.ErrAccountDidNotDeserialize.WithAccount(name)
	}
	return &StateRef[T]{Value: v, ref: ref}, nil
}

// Release drops the borrow. It is safe on a nil or released ref.
func (s *StateRef[T]) Release() {
	if s == nil || s.ref == nil {
		return
	}
	s.ref.Release()
	s.ref = nil
}

// Live reports whether the borrow is still held.
func (s *StateRef[T]) Live() bool {
	return s != nil && s.ref != nil
}

// StoreState writes payload after the discriminator of a's data.
func StoreState(a *AccountInfo, disc, payload []byte, name string) error {
	ref, err := a.TryBorrowMut()
	if err != nil {
		return types.ErrAccountBorrowFailed.WithAccount(name)
	}
	defer ref.Release()
	data := ref.Data()
	if !DiscriminatorMatches(disc, data) {
		return types.ErrAccountDiscriminatorMismatch.WithAccount(name)
	}
	if len(data) < len(disc)+len(payload) {
		return types.ErrAccountDidNotSerialize.WithAccount(name)
	}
	copy(data[len(disc):], payload)
	return nil
}
