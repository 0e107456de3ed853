// HookClaw - Telegram webhook gateway
// License: MIT

package update

import (
	"fmt"
	"strconv"
	"strings"
)

// CustomUpdate is an application-defined event submitted over HTTP.
type CustomUpdate struct {
	UserID  int64  `json:"user_id"`
	Payload string `json:"payload"`
}

func (CustomUpdate) Kind() Kind { return KindCustom }

func (u CustomUpdate) EntityID() int64 { return u.UserID }

func (CustomUpdate) Selectors() []string { return nil }

// ParseCustom validates raw request parameters. A parameter that was not
// supplied at all is reported before a malformed one.
func ParseCustom(userID string, hasUserID bool, payload string, hasPayload bool) (CustomUpdate, error) {
	if !hasUserID || !hasPayload {
		return CustomUpdate{}, ErrMissingParameter
	}

	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return CustomUpdate{}, fmt.Errorf("%w: %q", ErrNonNumericUserID, userID)
	}

	return CustomUpdate{UserID: id, Payload: payload}, nil
}
