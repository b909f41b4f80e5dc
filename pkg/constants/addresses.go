package constants

import "github.com/gagliardetto/solana-go"

// Well-known program IDs
var (
	// SPL Programs
	SystemProgramID          = solana.SystemProgramID
	TokenProgramID           = solana.TokenProgramID
	Token2022ProgramID       = solana.Token2022ProgramID
	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID
	SysvarOwnerID            = solana.MustPublicKeyFromBase58("Sysvar1111111111111111111111111111111111111")
)

// Seed prefixes hashed into discriminators
const (
	AccountDiscriminatorPrefix     = "account:"
	InstructionDiscriminatorPrefix = "global:"
)

// Account layout sizes
const (
	DiscriminatorLen       = 8
	MaxDiscriminatorLen    = 32
	TokenAccountSize       = 165
	MintSize               = 82
	AccountStorageOverhead = 128
)

// Rent defaults, matching the cluster's rent sysvar.
const (
	LamportsPerByteYear uint64 = 3480
	ExemptionYears      uint64 = 2
)

// Generated identifiers that declared accounts may not shadow.
var ReservedNames = map[string]bool{
	"env":      true,
	"accounts": true,
	"data":     true,
	"accs":     true,
	"args":     true,
	"bumps":    true,
	"err":      true,
	"ctx":      true,
	"runtime":  true,
	"types":    true,
	"solana":   true,
	"bin":      true,
	"token":    true,
}
