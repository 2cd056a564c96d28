package wire

import (
	"encoding/json"
	"fmt"
)

// Credentials is the Register/Login payload: a two-element ordered array
// [username, password].
type Credentials struct {
	Username string
	Password string
}

func (c *Credentials) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("credentials: expected [username, password]: %w", err)
	}
	c.Username, c.Password = pair[0], pair[1]
	return nil
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Username, c.Password})
}

// SendMessagePayload is the SendMessage payload.
type SendMessagePayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// UsernameOnly covers GetMessages/LogOff/DeleteUser/GetUserStats payloads,
// which spec §6 allows as either `[username]` or `{"username": ...}`.
type UsernameOnly struct {
	Username string
}

func (u *UsernameOnly) UnmarshalJSON(data []byte) error {
	var arr [1]string
	if err := json.Unmarshal(data, &arr); err == nil {
		u.Username = arr[0]
		return nil
	}
	var obj struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("username payload: expected [username] or {username}: %w", err)
	}
	u.Username = obj.Username
	return nil
}

func (u UsernameOnly) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username string `json:"username"`
	}{u.Username})
}

// DeleteMessagePayload is the DeleteMessage payload.
type DeleteMessagePayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
}

// UpdateViewCountPayload is the UpdateViewCount payload.
type UpdateViewCountPayload struct {
	Username string `json:"username"`
	NewCount int    `json:"new_count"`
}

// UserStatsPayload is the GS reply payload.
type UserStatsPayload struct {
	LogOffTime *string `json:"log_off_time"`
	ViewCount  int     `json:"view_count"`
}

// NotifyPayload is the unsolicited "M" push to an online recipient.
type NotifyPayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}
