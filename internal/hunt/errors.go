package hunt

import "fmt"

// Code is a machine-readable error code.
type Code string

const (
	CodeQuestLocked              Code = "QUEST_LOCKED"
	CodeAlreadySolved            Code = "ALREADY_SOLVED"
	CodeQuestInProgress          Code = "QUEST_IN_PROGRESS"
	CodeIncorrectAnswer          Code = "INCORRECT_ANSWER"
	CodeNoActiveQuest            Code = "NO_ACTIVE_QUEST"
	CodeGameCompleted            Code = "GAME_COMPLETED"
	CodeInsufficientFunds        Code = "INSUFFICIENT_FUNDS"
	CodeItemAlreadyActive        Code = "ITEM_ALREADY_ACTIVE"
	CodeItemAlreadyOwned         Code = "ITEM_ALREADY_OWNED"
	CodeItemNotOwned             Code = "ITEM_NOT_OWNED"
	CodeNoActiveItem             Code = "NO_ACTIVE_ITEM"
	CodeItemExpired              Code = "ITEM_EXPIRED"
	CodeCompassUnavailable       Code = "COMPASS_UNAVAILABLE"
	CodeTargetNoLongerEligible   Code = "TARGET_NO_LONGER_ELIGIBLE"
	CodeNoEligibleTarget         Code = "NO_ELIGIBLE_TARGET"
	CodeInvalidTarget            Code = "INVALID_TARGET"
	CodeTeamCursed               Code = "TEAM_CURSED"
	CodePartialTransfer          Code = "PARTIAL_TRANSFER"
	CodePermissionDenied         Code = "PERMISSION_DENIED"
	CodeLocationTimeout          Code = "LOCATION_TIMEOUT"
	CodeInvalidCoordinates       Code = "INVALID_COORDINATES"
	CodeConcurrentUpdateConflict Code = "CONCURRENT_UPDATE_CONFLICT"
	CodeConfigurationError       Code = "CONFIGURATION_ERROR"
	CodeMalformedDocument        Code = "MALFORMED_DOCUMENT"
	CodeNotFound                 Code = "NOT_FOUND"
)

// Error is the domain error type. Two errors match under errors.Is when their
// codes are equal, so the sentinels below work against wrapped instances.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Malformed reports a stored record missing a required field.
func Malformed(kind, field string) *Error {
	return Newf(CodeMalformedDocument, "%s document has invalid or missing %s", kind, field)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

var (
	ErrQuestLocked              = New(CodeQuestLocked, "quest is locked")
	ErrAlreadySolved            = New(CodeAlreadySolved, "quest already solved")
	ErrQuestInProgress          = New(CodeQuestInProgress, "another quest is in progress")
	ErrIncorrectAnswer          = New(CodeIncorrectAnswer, "incorrect answer")
	ErrNoActiveQuest            = New(CodeNoActiveQuest, "no quest is active")
	ErrGameCompleted            = New(CodeGameCompleted, "all quests solved")
	ErrInsufficientFunds        = New(CodeInsufficientFunds, "insufficient funds")
	ErrItemAlreadyActive        = New(CodeItemAlreadyActive, "another item is already active")
	ErrItemAlreadyOwned         = New(CodeItemAlreadyOwned, "item already owned")
	ErrItemNotOwned             = New(CodeItemNotOwned, "item not owned")
	ErrNoActiveItem             = New(CodeNoActiveItem, "no item is active")
	ErrItemExpired              = New(CodeItemExpired, "item expired")
	ErrCompassUnavailable       = New(CodeCompassUnavailable, "finish the active quest before using the compass")
	ErrTargetNoLongerEligible   = New(CodeTargetNoLongerEligible, "target is no longer eligible")
	ErrNoEligibleTarget         = New(CodeNoEligibleTarget, "no eligible target")
	ErrInvalidTarget            = New(CodeInvalidTarget, "invalid target")
	ErrTeamCursed               = New(CodeTeamCursed, "team is cursed")
	ErrPartialTransfer          = New(CodePartialTransfer, "transfer partially applied")
	ErrPermissionDenied         = New(CodePermissionDenied, "location permission denied")
	ErrLocationTimeout          = New(CodeLocationTimeout, "location unavailable")
	ErrInvalidCoordinates       = New(CodeInvalidCoordinates, "invalid coordinates")
	ErrConcurrentUpdateConflict = New(CodeConcurrentUpdateConflict, "concurrent update conflict")
	ErrConfigurationError       = New(CodeConfigurationError, "item is misconfigured, contact the game master")
	ErrNotFound                 = New(CodeNotFound, "not found")
)
