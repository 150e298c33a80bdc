package domain

import "time"

// Activity is a user-level audit event.
type Activity string

const (
	ActivityLogin              Activity = "LOGIN"
	ActivityLoginAttemptFailed Activity = "LOGIN_ATTEMPT_FAILED"
	ActivityLockedOut          Activity = "LOCKED_OUT"
	ActivitySignUp             Activity = "SIGN_UP"
	ActivityInvalidRefresh     Activity = "INVALID_REFRESH"
	ActivitySessionsRevoked    Activity = "SESSIONS_REVOKED"
)

// Activities returns every known activity.
func Activities() []Activity {
	return []Activity{
		ActivityLogin,
		ActivityLoginAttemptFailed,
		ActivityLockedOut,
		ActivitySignUp,
		ActivityInvalidRefresh,
		ActivitySessionsRevoked,
	}
}

// IsValid reports whether a is a known activity.
func (a Activity) IsValid() bool {
	for _, known := range Activities() {
		if a == known {
			return true
		}
	}
	return false
}

// UserActivity is one recorded activity. UserID is empty for failed logins
// that never resolved to a user.
type UserActivity struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId,omitempty"`
	Activity   Activity  `json:"type"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
