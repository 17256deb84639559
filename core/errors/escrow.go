package errors

var (
	ErrAlreadyInitialized    = New(CodeAlreadyInitialized, "escrow: already initialized")
	ErrNotInitialized        = New(CodeNotInitialized, "escrow: not initialized")
	ErrBountyExists          = New(CodeBountyExists, "escrow: bounty already exists")
	ErrBountyNotFound        = New(CodeBountyNotFound, "escrow: bounty not found")
	ErrFundsNotLocked        = New(CodeFundsNotLocked, "escrow: funds not locked")
	ErrDeadlineNotPassed     = New(CodeDeadlineNotPassed, "escrow: deadline not passed")
	ErrUnauthorized          = New(CodeUnauthorized, "escrow: unauthorized")
	ErrAmountBelowMinimum    = New(CodeAmountBelowMinimum, "escrow: amount below minimum")
	ErrAmountAboveMaximum    = New(CodeAmountAboveMaximum, "escrow: amount above maximum")
	ErrInvalidBatchSize      = New(CodeInvalidBatchSize, "escrow: invalid batch size")
	ErrBatchSizeMismatch     = New(CodeBatchSizeMismatch, "escrow: batch size mismatch")
	ErrDuplicateBountyID     = New(CodeDuplicateBountyID, "escrow: duplicate bounty id in batch")
	ErrInvalidAmount         = New(CodeInvalidAmount, "escrow: amount must be positive")
	ErrInvalidDeadline       = New(CodeInvalidDeadline, "escrow: deadline must be in the future")
	ErrInvalidPolicy         = New(CodeInvalidPolicy, "escrow: invalid amount policy")
	ErrClaimNotFound         = New(CodeClaimNotFound, "claim: not found")
	ErrClaimExpired          = New(CodeClaimExpired, "claim: expired")
	ErrClaimAlreadyExecuted  = New(CodeClaimAlreadyExecuted, "claim: already executed")
	ErrClaimPending          = New(CodeClaimPending, "claim: pending claim exists")
	ErrProgramNotFound       = New(CodeProgramNotFound, "program: not found")
	ErrProgramExists         = New(CodeProgramExists, "program: already exists")
	ErrInsufficientBalance   = New(CodeInsufficientBalance, "escrow: insufficient balance")
	ErrRateLimitExceeded     = New(CodeRateLimitExceeded, "Rate limit exceeded")
	ErrCooldownViolation     = New(CodeCooldownViolation, "Operation in cooldown period")
	ErrCircuitOpen           = New(CodeCircuitOpen, "circuit: open, payouts suspended")
	ErrTransferFailed        = New(CodeTransferFailed, "escrow: transfer failed")
	ErrParticipantNotAllowed = New(CodeParticipantNotAllowed, "compliance: participant not allowed")
	ErrScheduleNotFound      = New(CodeScheduleNotFound, "program: release schedule not found")
	ErrScheduleReleased      = New(CodeScheduleReleased, "program: release schedule already released")
	ErrScheduleNotDue        = New(CodeScheduleNotDue, "program: release schedule not due")
	ErrInvalidFeeRate        = New(CodeInvalidFeeRate, "program: fee rate out of range")
	ErrApprovalRequired      = New(CodeApprovalRequired, "program: payout requires multisig approval")
	ErrInvalidProgramID      = New(CodeInvalidProgramID, "program: invalid program id")
	ErrInvalidConfig         = New(CodeInvalidConfig, "escrow: invalid configuration")
)
