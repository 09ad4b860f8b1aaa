package tenantctl

import "github.com/opal-lang/tenantctl/internal/controlerr"

// StandardError is the wire shape of every error this package returns
// from a tool operation. It re-exports controlerr.Error so callers never
// need to import an internal package to inspect an error's code.
type StandardError = controlerr.Error

// Error code constants, re-exported for callers matching on err.Code.
const (
	ErrValidation         = controlerr.CodeValidationError
	ErrTargetNotFound     = controlerr.CodeTargetNotFound
	ErrTargetAmbiguous    = controlerr.CodeTargetAmbiguous
	ErrPlanMismatch       = controlerr.CodePlanMismatch
	ErrCapabilityUnavail  = controlerr.CodeCapabilityUnavail
	ErrConfirmRequired    = controlerr.CodeConfirmRequired
	ErrInvalidToken       = controlerr.CodeInvalidConfirmToken
	ErrMissingScope       = controlerr.CodeMissingScope
	ErrAuthContextRequired = controlerr.CodeAuthContextRequired
	ErrInternal           = controlerr.CodeInternalError
)
