package apperrors

import "net/http"

// Code is a machine-readable reason string carried by every rejection.
type Code string

const (
	CodeInvalidPattern     Code = "invalid_pattern"
	CodeInvalidPosition    Code = "invalid_position"
	CodeInvalidPin         Code = "invalid_pin"
	CodeInvalidNickname    Code = "invalid_nickname"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeGameNotFound       Code = "game_not_found"
	CodePlayerNotFound     Code = "player_not_found"
	CodeCardNotFound       Code = "card_not_found"
	CodeClaimNotFound      Code = "claim_not_found"
	CodeSessionNotFound    Code = "session_not_found"
	CodeGameNotActive      Code = "game_not_active"
	CodeGameNotJoinable    Code = "game_not_joinable"
	CodeGameFull           Code = "game_full"
	CodeNicknameTaken      Code = "nickname_taken"
	CodeNoNumbersRemaining Code = "no_numbers_remaining"
	CodeNumberNotDrawn     Code = "number_not_drawn"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeRateLimited        Code = "rate_limited"
	CodeCooldown           Code = "cooldown"
	CodeForbidden          Code = "forbidden"
	CodeUnauthorized       Code = "unauthorized"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal"
)

// Kind groups codes by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindRateLimited
	KindCooldown
	KindForbidden
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindCooldown:
		return "cooldown"
	case KindForbidden:
		return "forbidden"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Kind returns the taxonomy bucket for the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidPattern, CodeInvalidPosition, CodeInvalidPin, CodeInvalidNickname, CodeInvalidArgument:
		return KindValidation
	case CodeGameNotFound, CodePlayerNotFound, CodeCardNotFound, CodeClaimNotFound, CodeSessionNotFound:
		return KindNotFound
	case CodeGameNotActive, CodeGameNotJoinable, CodeGameFull, CodeNicknameTaken,
		CodeNoNumbersRemaining, CodeNumberNotDrawn, CodeInvalidTransition:
		return KindStateConflict
	case CodeRateLimited:
		return KindRateLimited
	case CodeCooldown:
		return KindCooldown
	case CodeForbidden, CodeUnauthorized:
		return KindForbidden
	case CodeUnavailable:
		return KindTransient
	default:
		return KindInternal
	}
}

// HTTPStatus maps the code onto a response status for the join and resume endpoints.
func (c Code) HTTPStatus() int {
	switch c.Kind() {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindRateLimited, KindCooldown:
		return http.StatusTooManyRequests
	case KindForbidden:
		if c == CodeUnauthorized {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
