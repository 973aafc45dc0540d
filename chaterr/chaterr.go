package chaterr

import (
	"errors"
	"strings"
)

// Kind classifies a failure for callers that need to decide between showing
// it to the user and retrying.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindPermissionDenied
	KindIO
	KindDecode
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPermissionDenied:
		return "permission_denied"
	case KindIO:
		return "io"
	case KindDecode:
		return "decode"
	case KindInvalid:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by the channel, the stores and the facade.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	} else if e.Err == nil {
		parts = append(parts, e.Kind.String())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels (no Op, no Msg) by kind and everything else by identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Msg == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// Kind sentinels.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrIO               = &Error{Kind: KindIO}
	ErrDecode           = &Error{Kind: KindDecode}
	ErrInvalid          = &Error{Kind: KindInvalid}
)

// Specific failures.
var (
	ErrRoomNotFound        = &Error{Kind: KindNotFound, Msg: "chatroom does not exist"}
	ErrUserNotFound        = &Error{Kind: KindNotFound, Msg: "user does not exist"}
	ErrAlreadyMember       = &Error{Kind: KindConflict, Msg: "user already a member"}
	ErrDuplicateUser       = &Error{Kind: KindConflict, Msg: "username already exists"}
	ErrNotMember           = &Error{Kind: KindPermissionDenied, Msg: "user is not a member"}
	ErrCannotRemoveCreator = &Error{Kind: KindPermissionDenied, Msg: "cannot remove the creator of the chatroom"}
	ErrBadCredential       = &Error{Kind: KindPermissionDenied, Msg: "invalid password"}
	ErrUnknownTag          = &Error{Kind: KindDecode, Msg: "unknown tag"}
)

// IO wraps an I/O failure from op.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// Decode wraps a malformed payload failure from op.
func Decode(op, msg string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Msg: msg, Err: err}
}

// Invalid reports a caller-supplied argument that op cannot act on.
func Invalid(op, msg string) error {
	return &Error{Kind: KindInvalid, Op: op, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind != KindUnknown {
				return e.Kind
			}
			err = e.Err
			continue
		}
		break
	}
	return KindUnknown
}

// Retryable reports whether the caller should simply try again on the next cycle.
func Retryable(err error) bool {
	return KindOf(err) == KindIO
}

// UserFacing reports whether err should be shown to the user instead of retried.
func UserFacing(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindConflict, KindPermissionDenied, KindInvalid:
		return true
	}
	return false
}
