package domain

// AccessTokenStatus is the lifecycle state of a restricted-category token
type AccessTokenStatus string

const (
	AccessTokenStatusFree    AccessTokenStatus = "FREE"
	AccessTokenStatusPending AccessTokenStatus = "PENDING"
	AccessTokenStatusTaken   AccessTokenStatus = "TAKEN"
)

func (s AccessTokenStatus) String() string {
	return string(s)
}

// AccessToken grants entry to an access-restricted category. A token moves
// FREE -> PENDING when bound to a shopping session and PENDING -> TAKEN when
// the reservation confirms; cancellation resets it to FREE.
type AccessToken struct {
	ID         int64             `json:"id"`
	Code       string            `json:"code"`
	CategoryID int64             `json:"category_id"`
	Status     AccessTokenStatus `json:"status"`
	SessionID  *string           `json:"session_id,omitempty"`
}

// BoundTo reports whether the token is currently held by the given session
func (t *AccessToken) BoundTo(sessionID string) bool {
	return t.SessionID != nil && *t.SessionID == sessionID
}
