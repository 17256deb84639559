package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is the stable numeric identifier attached to every escrow failure so
// callers can branch without matching on message text.
type Code uint32

const (
	CodeAlreadyInitialized    Code = 1
	CodeNotInitialized        Code = 2
	CodeBountyExists          Code = 3
	CodeBountyNotFound        Code = 4
	CodeFundsNotLocked        Code = 5
	CodeDeadlineNotPassed     Code = 6
	CodeUnauthorized          Code = 7
	CodeAmountBelowMinimum    Code = 8
	CodeAmountAboveMaximum    Code = 9
	CodeInvalidBatchSize      Code = 10
	CodeBatchSizeMismatch     Code = 11
	CodeDuplicateBountyID     Code = 12
	CodeInvalidAmount         Code = 13
	CodeInvalidDeadline       Code = 14
	CodeInvalidPolicy         Code = 15
	CodeClaimNotFound         Code = 16
	CodeClaimExpired          Code = 17
	CodeClaimAlreadyExecuted  Code = 18
	CodeClaimPending          Code = 19
	CodeProgramNotFound       Code = 20
	CodeProgramExists         Code = 21
	CodeInsufficientBalance   Code = 22
	CodeRateLimitExceeded     Code = 23
	CodeCooldownViolation     Code = 24
	CodeCircuitOpen           Code = 25
	CodeTransferFailed        Code = 26
	CodeParticipantNotAllowed Code = 27
	CodeScheduleNotFound      Code = 28
	CodeScheduleReleased      Code = 29
	CodeScheduleNotDue        Code = 30
	CodeInvalidFeeRate        Code = 31
	CodeApprovalRequired      Code = 32
	CodeInvalidProgramID      Code = 33
	CodeInvalidConfig         Code = 34
)

var codeNames = map[Code]string{
	CodeAlreadyInitialized:    "AlreadyInitialized",
	CodeNotInitialized:        "NotInitialized",
	CodeBountyExists:          "BountyExists",
	CodeBountyNotFound:        "BountyNotFound",
	CodeFundsNotLocked:        "FundsNotLocked",
	CodeDeadlineNotPassed:     "DeadlineNotPassed",
	CodeUnauthorized:          "Unauthorized",
	CodeAmountBelowMinimum:    "AmountBelowMinimum",
	CodeAmountAboveMaximum:    "AmountAboveMaximum",
	CodeInvalidBatchSize:      "InvalidBatchSize",
	CodeBatchSizeMismatch:     "BatchSizeMismatch",
	CodeDuplicateBountyID:     "DuplicateBountyId",
	CodeInvalidAmount:         "InvalidAmount",
	CodeInvalidDeadline:       "InvalidDeadline",
	CodeInvalidPolicy:         "InvalidPolicy",
	CodeClaimNotFound:         "ClaimNotFound",
	CodeClaimExpired:          "ClaimExpired",
	CodeClaimAlreadyExecuted:  "ClaimAlreadyExecuted",
	CodeClaimPending:          "ClaimPending",
	CodeProgramNotFound:       "ProgramNotFound",
	CodeProgramExists:         "ProgramExists",
	CodeInsufficientBalance:   "InsufficientBalance",
	CodeRateLimitExceeded:     "RateLimitExceeded",
	CodeCooldownViolation:     "CooldownViolation",
	CodeCircuitOpen:           "CircuitOpen",
	CodeTransferFailed:        "TransferFailed",
	CodeParticipantNotAllowed: "ParticipantNotAllowed",
	CodeScheduleNotFound:      "ScheduleNotFound",
	CodeScheduleReleased:      "ScheduleAlreadyReleased",
	CodeScheduleNotDue:        "ScheduleNotDue",
	CodeInvalidFeeRate:        "InvalidFeeRate",
	CodeApprovalRequired:      "ApprovalRequired",
	CodeInvalidProgramID:      "InvalidProgramId",
	CodeInvalidConfig:         "InvalidConfig",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Error is a coded failure. Two errors are considered equal under errors.Is
// when their codes match, regardless of message.
type Error struct {
	Code    Code
	Message string
}

// New constructs a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Is implements errors.Is matching on the numeric code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Wrapf annotates the coded error with call specific detail while keeping the
// code reachable through errors.Is and CodeOf.
func (e *Error) Wrapf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", e, fmt.Sprintf(format, args...))
}

// CodeOf extracts the numeric code from err. The boolean is false when err
// carries no code (for example a storage failure).
func CodeOf(err error) (Code, bool) {
	var coded *Error
	if stderrors.As(err, &coded) && coded != nil {
		return coded.Code, true
	}
	return 0, false
}

// Is reports whether err carries the supplied code.
func Is(err error, code Code) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}
