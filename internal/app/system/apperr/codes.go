package apperr

// Generic failures.
var (
	ErrNotFound      = New(KindNotFound, "NotFound", "resource not found")
	ErrNotAuthorized = New(KindNotAuthorized, "NotAuthorized", "not authorized")
	ErrInvalidState  = New(KindInvalidState, "InvalidState", "operation is not valid in the current state")
	ErrConflict      = New(KindConflict, "Conflict", "a concurrent change conflicted with this request")
	ErrValidation    = New(KindValidation, "ValidationError", "invalid input")
)

// Relationship ledger.
var (
	ErrDuplicateRelationship = New(KindInvalidState, "DuplicateRelationship", "a connection already exists between these users")
	ErrSelfReference         = New(KindValidation, "SelfReference", "cannot connect to yourself")
	ErrAlreadyResolved       = New(KindInvalidState, "AlreadyResolved", "connection request has already been resolved")
)

// Membership engine.
var (
	ErrLastAdminGuard     = New(KindInvalidState, "LastAdminGuard", "the group must keep at least one admin; promote another admin first")
	ErrInsufficientRole   = New(KindNotAuthorized, "InsufficientRole", "your role in this group does not allow this action")
	ErrAlreadyMember      = New(KindInvalidState, "AlreadyMember", "user is already a member of this group")
	ErrAlreadyInvited     = New(KindInvalidState, "AlreadyInvited", "user already has a pending invitation")
	ErrAlreadyRequested   = New(KindInvalidState, "AlreadyRequested", "user already has a pending join request")
	ErrPendingInvitation  = New(KindInvalidState, "PendingInvitation", "user has a pending invitation; accept it instead")
	ErrPendingJoinRequest = New(KindInvalidState, "PendingJoinRequest", "user has a pending join request; approve it instead")
	ErrCannotTargetSelf   = New(KindInvalidState, "CannotTargetSelf", "cannot target yourself; use leave instead")
)

// Message store.
var (
	ErrEmptyMessage    = New(KindValidation, "EmptyMessage", "message needs text or at least one attachment")
	ErrNotAParticipant = New(KindNotAuthorized, "NotAParticipant", "you are not a participant in this conversation")
	ErrNotAMember      = New(KindNotAuthorized, "NotAMember", "you are not a member of this group")
)
