package domain

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by every error the signaling path produces.
const (
	TextCodeUnauthorized         = "UNAUTHORIZED"
	TextCodeMalformedFrame       = "MALFORMED_FRAME"
	TextCodeUnknownType          = "UNKNOWN_TYPE"
	TextCodeRecipientUnreachable = "RECIPIENT_UNREACHABLE"
	TextCodeInvalidTransition    = "INVALID_STATE_TRANSITION"
	TextCodeRateLimited          = "RATE_LIMITED"
	TextCodeProfileNotFound      = "PROFILE_NOT_FOUND"
)

func newError(message string, category goerrors.Category, code int, textCode string, cause error, metadata map[string]any) error {
	var err *goerrors.Error
	if cause != nil {
		// Wrapping a rich error clones it; the outer kind wins.
		err = goerrors.Wrap(cause, category, message)
		err.Category = category
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func Unauthorized(reason string, cause error) error {
	return newError("unauthorized: "+reason, goerrors.CategoryAuth, http.StatusUnauthorized, TextCodeUnauthorized, cause, nil)
}

func MalformedFrame(reason string, cause error) error {
	return newError("malformed frame: "+reason, goerrors.CategoryBadInput, http.StatusBadRequest, TextCodeMalformedFrame, cause, nil)
}

func UnknownType(msgType string) error {
	return newError("unknown message type", goerrors.CategoryBadInput, http.StatusBadRequest, TextCodeUnknownType, nil,
		map[string]any{"type": msgType})
}

func RecipientUnreachable(id UserID) error {
	return newError("recipient unreachable", goerrors.CategoryNotFound, http.StatusNotFound, TextCodeRecipientUnreachable, nil,
		map[string]any{"recipient_id": string(id)})
}

func InvalidTransition(reason string, pair Pair) error {
	return newError("invalid state transition: "+reason, goerrors.CategoryConflict, http.StatusConflict, TextCodeInvalidTransition, nil,
		map[string]any{"pair": string(pair.A) + "|" + string(pair.B)})
}

func RateLimited(id UserID) error {
	return newError("rate limited", goerrors.CategoryRateLimit, http.StatusTooManyRequests, TextCodeRateLimited, nil,
		map[string]any{"user_id": string(id)})
}

func ProfileNotFound(id UserID, cause error) error {
	return newError("profile not found", goerrors.CategoryNotFound, http.StatusNotFound, TextCodeProfileNotFound, cause,
		map[string]any{"user_id": string(id)})
}

// HasTextCode reports whether err (or anything it wraps) is a rich error with the given text code.
func HasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}

// TextCode returns the text code of err, or "" for plain errors.
func TextCode(err error) string {
	var rich *goerrors.Error
	if err == nil || !goerrors.As(err, &rich) {
		return ""
	}
	return rich.TextCode
}
