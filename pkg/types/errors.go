package types

import (
	"errors"
	"fmt"
	"strings"
)

// Common generator errors
var (
	// Schema errors
	ErrEmptySchema        = errors.New("schema is empty")
	ErrUnknownContext     = errors.New("unknown context")
	ErrUnknownStateType   = errors.New("unknown account state type")
	ErrMalformedProgramID = errors.New("malformed program id")
	ErrDuplicateName      = errors.New("duplicate name")
	ErrReservedName       = errors.New("reserved name")
	ErrUnsupportedType    = errors.New("unsupported field type")
	ErrArraySizeOutRange  = errors.New("array size must be within 1..100")

	// RPC errors
	ErrAccountNotFound = errors.New("account not found")
)

// ErrorCode is the wire-level number of a program error.
type ErrorCode uint32

// Instruction decoding
const (
	CodeInstructionMissing           ErrorCode = 100
	CodeInstructionFallbackNotFound  ErrorCode = 101
	CodeInstructionDidNotDeserialize ErrorCode = 102
	CodeInstructionDidNotSerialize   ErrorCode = 103
)

// Constraint violations
const (
	CodeConstraintMut                      ErrorCode = 2000
	CodeConstraintHasOne                   ErrorCode = 2001
	CodeConstraintSigner                   ErrorCode = 2002
	CodeConstraintRaw                      ErrorCode = 2003
	CodeConstraintOwner                    ErrorCode = 2004
	CodeConstraintRentExempt               ErrorCode = 2005
	CodeConstraintSeeds                    ErrorCode = 2006
	CodeConstraintExecutable               ErrorCode = 2007
	CodeConstraintZero                     ErrorCode = 2010
	CodeConstraintAddress                  ErrorCode = 2012
	CodeConstraintTokenMint                ErrorCode = 2014
	CodeConstraintTokenOwner               ErrorCode = 2015
	CodeConstraintMintMintAuthority        ErrorCode = 2016
	CodeConstraintMintFreezeAuthority      ErrorCode = 2017
	CodeConstraintMintDecimals             ErrorCode = 2018
	CodeConstraintSpace                    ErrorCode = 2019
	CodeConstraintAssociatedTokenAddress   ErrorCode = 2020
	CodeConstraintAssociatedTokenInit      ErrorCode = 2021
	CodeConstraintAccountIsNone            ErrorCode = 2022
	CodeConstraintTokenProgram             ErrorCode = 2023
	CodeConstraintAssociatedTokenAuthority ErrorCode = 2024
)

// Account shape
const (
	CodeAccountDiscriminatorAlreadySet ErrorCode = 3000
	CodeAccountDiscriminatorNotFound   ErrorCode = 3001
	CodeAccountDiscriminatorMismatch   ErrorCode = 3002
	CodeAccountDidNotDeserialize       ErrorCode = 3003
	CodeAccountDidNotSerialize         ErrorCode = 3004
	CodeAccountNotEnoughKeys           ErrorCode = 3005
	CodeAccountNotMutable              ErrorCode = 3006
	CodeAccountOwnedByWrongProgram     ErrorCode = 3007
	CodeInvalidProgramID               ErrorCode = 3008
	CodeInvalidProgramExecutable       ErrorCode = 3009
	CodeAccountNotSigner               ErrorCode = 3010
	CodeAccountNotSystemOwned          ErrorCode = 3011
	CodeAccountNotInitialized          ErrorCode = 3012
	CodeAccountNotProgramData          ErrorCode = 3013
	CodeAccountNotAssociatedToken      ErrorCode = 3014
	CodeAccountBorrowFailed            ErrorCode = 3100
)

// Arithmetic
const (
	CodeArithmeticOverflow ErrorCode = 4000
)

// CustomErrorOffset is the first code handed to program-declared errors.
const CustomErrorOffset ErrorCode = 6000

// ProgramError is a numbered runtime failure, optionally tied to the account
// that caused it.
type ProgramError struct {
	Code    ErrorCode
	Name    string
	Message string
	Account string
}

func (e *ProgramError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("error caused by account: %s. error code: %s. error number: %d. error message: %s.", e.Account, e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("error code: %s. error number: %d. error message: %s.", e.Name, e.Code, e.Message)
}

// Is matches any ProgramError carrying the same code.
func (e *ProgramError) Is(target error) bool {
	var pe *ProgramError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Code == e.Code
}

// WithAccount returns a copy annotated with the offending account name.
func (e *ProgramError) WithAccount(name string) *ProgramError {
	cp := *e
	cp.Account = name
	return &cp
}

// NewProgramError creates a numbered error, used for program-declared codes.
func NewProgramError(code ErrorCode, name, message string) *ProgramError {
	return &ProgramError{Code: code, Name: name, Message: message}
}

var (
	ErrInstructionDidNotDeserialize = NewProgramError(CodeInstructionDidNotDeserialize, "InstructionDidNotDeserialize", "The program could not deserialize the given instruction")

	ErrConstraintMut                      = NewProgramError(CodeConstraintMut, "ConstraintMut", "A mut constraint was violated")
	ErrConstraintHasOne                   = NewProgramError(CodeConstraintHasOne, "ConstraintHasOne", "A has one constraint was violated")
	ErrConstraintSigner                   = NewProgramError(CodeConstraintSigner, "ConstraintSigner", "A signer constraint was violated")
	ErrConstraintRaw                      = NewProgramError(CodeConstraintRaw, "ConstraintRaw", "A raw constraint was violated")
	ErrConstraintOwner                    = NewProgramError(CodeConstraintOwner, "ConstraintOwner", "An owner constraint was violated")
	ErrConstraintSeeds                    = NewProgramError(CodeConstraintSeeds, "ConstraintSeeds", "A seeds constraint was violated")
	ErrConstraintExecutable               = NewProgramError(CodeConstraintExecutable, "ConstraintExecutable", "An executable constraint was violated")
	ErrConstraintAddress                  = NewProgramError(CodeConstraintAddress, "ConstraintAddress", "An address constraint was violated")
	ErrConstraintTokenMint                = NewProgramError(CodeConstraintTokenMint, "ConstraintTokenMint", "A token mint constraint was violated")
	ErrConstraintTokenOwner               = NewProgramError(CodeConstraintTokenOwner, "ConstraintTokenOwner", "A token owner constraint was violated")
	ErrConstraintMintMintAuthority        = NewProgramError(CodeConstraintMintMintAuthority, "ConstraintMintMintAuthority", "A mint mint authority constraint was violated")
	ErrConstraintMintFreezeAuthority      = NewProgramError(CodeConstraintMintFreezeAuthority, "ConstraintMintFreezeAuthority", "A mint freeze authority constraint was violated")
	ErrConstraintMintDecimals             = NewProgramError(CodeConstraintMintDecimals, "ConstraintMintDecimals", "A mint decimals constraint was violated")
	ErrConstraintSpace                    = NewProgramError(CodeConstraintSpace, "ConstraintSpace", "A space constraint was violated")
	ErrConstraintAssociatedTokenAddress   = NewProgramError(CodeConstraintAssociatedTokenAddress, "ConstraintAssociated", "An associated constraint was violated")
	ErrConstraintAssociatedTokenInit      = NewProgramError(CodeConstraintAssociatedTokenInit, "ConstraintAssociatedInit", "An associated init constraint was violated")
	ErrConstraintTokenProgram             = NewProgramError(CodeConstraintTokenProgram, "ConstraintTokenTokenProgram", "A token account token program constraint was violated")
	ErrConstraintAssociatedTokenAuthority = NewProgramError(CodeConstraintAssociatedTokenAuthority, "ConstraintAssociatedTokenAuthority", "An associated token account authority constraint was violated")

	ErrAccountDiscriminatorAlreadySet = NewProgramError(CodeAccountDiscriminatorAlreadySet, "AccountDiscriminatorAlreadySet", "The account discriminator was already set on this account")
	ErrAccountDiscriminatorNotFound   = NewProgramError(CodeAccountDiscriminatorNotFound, "AccountDiscriminatorNotFound", "No discriminator was found on the account")
	ErrAccountDiscriminatorMismatch   = NewProgramError(CodeAccountDiscriminatorMismatch, "AccountDiscriminatorMismatch", "Account discriminator did not match what was expected")
	ErrAccountDidNotDeserialize       = NewProgramError(CodeAccountDidNotDeserialize, "AccountDidNotDeserialize", "Failed to deserialize the account")
	ErrAccountDidNotSerialize         = NewProgramError(CodeAccountDidNotSerialize, "AccountDidNotSerialize", "Failed to serialize the account")
	ErrAccountNotEnoughKeys           = NewProgramError(CodeAccountNotEnoughKeys, "AccountNotEnoughKeys", "Not enough account keys given to the instruction")
	ErrAccountNotMutable              = NewProgramError(CodeAccountNotMutable, "AccountNotMutable", "The given account is not mutable")
	ErrAccountOwnedByWrongProgram     = NewProgramError(CodeAccountOwnedByWrongProgram, "AccountOwnedByWrongProgram", "The given account is owned by a different program than expected")
	ErrInvalidProgramID               = NewProgramError(CodeInvalidProgramID, "InvalidProgramId", "Program ID was not as expected")
	ErrInvalidProgramExecutable       = NewProgramError(CodeInvalidProgramExecutable, "InvalidProgramExecutable", "Program account is not executable")
	ErrAccountNotSigner               = NewProgramError(CodeAccountNotSigner, "AccountNotSigner", "The given account did not sign")
	ErrAccountNotSystemOwned          = NewProgramError(CodeAccountNotSystemOwned, "AccountNotSystemOwned", "The given account is not owned by the system program")
	ErrAccountNotInitialized          = NewProgramError(CodeAccountNotInitialized, "AccountNotInitialized", "The program expected this account to be already initialized")
	ErrAccountNotAssociatedToken      = NewProgramError(CodeAccountNotAssociatedToken, "AccountNotAssociatedTokenAccount", "The given account is not the associated token account")
	ErrAccountBorrowFailed            = NewProgramError(CodeAccountBorrowFailed, "AccountBorrowFailed", "The account data is already borrowed")

	ErrArithmeticOverflow = NewProgramError(CodeArithmeticOverflow, "ArithmeticOverflow", "Arithmetic overflow or underflow")
)

var builtin = map[ErrorCode]*ProgramError{}

// builtinByName resolves "@ Name" annotations that refer to framework errors.
var builtinByName = map[string]*ProgramError{}

func init() {
	for _, e := range []*ProgramError{
		ErrInstructionDidNotDeserialize,
		ErrConstraintMut, ErrConstraintHasOne, ErrConstraintSigner, ErrConstraintRaw,
		ErrConstraintOwner, ErrConstraintSeeds, ErrConstraintExecutable, ErrConstraintAddress,
		ErrConstraintTokenMint, ErrConstraintTokenOwner, ErrConstraintMintMintAuthority,
		ErrConstraintMintFreezeAuthority, ErrConstraintMintDecimals, ErrConstraintSpace,
		ErrConstraintAssociatedTokenAddress, ErrConstraintAssociatedTokenInit, ErrConstraintTokenProgram,
		ErrConstraintAssociatedTokenAuthority,
		ErrAccountDiscriminatorAlreadySet, ErrAccountDiscriminatorNotFound, ErrAccountDiscriminatorMismatch,
		ErrAccountDidNotDeserialize, ErrAccountDidNotSerialize, ErrAccountNotEnoughKeys, ErrAccountNotMutable,
		ErrAccountOwnedByWrongProgram, ErrInvalidProgramID, ErrInvalidProgramExecutable,
		ErrAccountNotSigner, ErrAccountNotSystemOwned, ErrAccountNotInitialized,
		ErrAccountNotAssociatedToken, ErrAccountBorrowFailed, ErrArithmeticOverflow,
	} {
		builtin[e.Code] = e
		builtinByName[e.Name] = e
	}
}

// ErrorFromCode looks up a framework error by number.
func ErrorFromCode(code ErrorCode) (*ProgramError, bool) {
	e, ok := builtin[code]
	return e, ok
}

// ErrorFromName looks up a framework error by its name.
func ErrorFromName(name string) (*ProgramError, bool) {
	e, ok := builtinByName[name]
	return e, ok
}

// BuiltinError is ErrorFromName for names known to exist. It panics
// otherwise.
func BuiltinError(name string) *ProgramError {
	e, ok := builtinByName[name]
	if !ok {
		panic("types: unknown error " + name)
	}
	return e
}

// RPCError wraps RPC failures with operation context.
type RPCError struct {
	Op  string
	Err error
}

func (e RPCError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e RPCError) Unwrap() error {
	return e.Err
}

// ValidationError represents schema validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// Position locates a declaration inside the schema source.
type Position struct {
	Path   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Line == 0 {
		return p.Path
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// GenerationError aborts code generation. It never reaches runtime.
type GenerationError struct {
	Pos     Position
	Context string
	Field   string
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	if e.Pos.Line > 0 {
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}
	if e.Context != "" {
		b.WriteString(e.Context)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// AccountFromLogs extracts the account name from program error logs.
func AccountFromLogs(logs []string) string {
	for _, log := range logs {
		if idx := strings.Index(log, "caused by account: "); idx >= 0 {
			rest := log[idx+len("caused by account: "):]
			if end := strings.Index(rest, "."); end >= 0 {
				return rest[:end]
			}
			return rest
		}
	}
	return ""
}

// ToReadableError converts a CamelCase error name to a readable phrase.
func ToReadableError(name string) string {
	if name == "" {
		return "unknown error"
	}
	var result []byte
	for i, c := range name {
		if i > 0 && c >= 'A' && c <= 'Z' {
			result = append(result, ' ')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var progErr *ProgramError
	if errors.As(err, &progErr) {
		return false
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return false
	}
	return !errors.Is(err, ErrAccountNotFound)
}
