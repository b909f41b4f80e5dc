package runtime

import (
	bin "github.com/gagliardetto/binary"

	"github.com/ninja0404/ctxgen/pkg/types"
)

// TakeAccounts consumes the first n accounts and advances the slice past
// them.
func TakeAccounts(accounts *[]*AccountInfo, n int) ([]*AccountInfo, error) {
	if len(*accounts) < n {
		return nil, types.ErrAccountNotEnoughKeys
	}
	out := (*accounts)[:n:n]
	*accounts = (*accounts)[n:]
	return out, nil
}

// Remaining consumes every account left in the slice.
func Remaining(accounts *[]*AccountInfo) []*AccountInfo {
	out := *accounts
	*accounts = nil
	return out
}

// DecodeFixedArgs decodes a fixed-size little-endian record from the front
// of data and advances it.
func DecodeFixedArgs(data *[]byte, v interface{}) error {
	return decodeArgs(bin.NewBinDecoder(*data), data, v)
}

// DecodeBorshArgs decodes a Borsh value from the front of data and advances
// it.
func DecodeBorshArgs(data *[]byte, v interface{}) error {
	return decodeArgs(bin.NewBorshDecoder(*data), data, v)
}

func decodeArgs(dec *bin.Decoder, data *[]byte, v interface{}) error {
	if err := dec.Decode(v); err != nil {
		return types.ErrInstructionDidNotDeserialize
	}
	*data = (*data)[dec.Position():]
	return nil
}
