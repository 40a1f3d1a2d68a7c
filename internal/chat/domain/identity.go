package domain

import "time"

// Identity verified user of a connection
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name,omitempty"`
}

// Session login session kept in redis by the account service
type Session struct {
	Token        string    `json:"Token"`
	MemberID     string    `json:"MemberID"`
	CreatedAt    time.Time `json:"CreatedAt"`
	LastActivity time.Time `json:"LastActivity"`
	ExpiredAt    time.Time `json:"ExpiredAt"`
}

// IsExpired 檢查 Session 是否已過期
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiredAt)
}
