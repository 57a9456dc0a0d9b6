package errs

const (
	CodeInvalidArgument  = 1001
	CodeNotFound         = 1002
	CodeAccessDenied     = 1003
	CodeTransientStore   = 1004
	CodeScheduleConflict = 1005
)

var (
	ErrInvalidArgument  = NewCodeError(CodeInvalidArgument, "invalid argument")
	ErrNotFound         = NewCodeError(CodeNotFound, "not found")
	ErrAccessDenied     = NewCodeError(CodeAccessDenied, "access denied")
	ErrTransientStore   = NewCodeError(CodeTransientStore, "store temporarily unavailable")
	ErrScheduleConflict = NewCodeError(CodeScheduleConflict, "schedule conflict")
)
