// Package client is a small SDK wrapping the chat wire protocol: dial once,
// then call typed methods instead of hand-building frames. It talks to
// exactly one server; if that server is a backup it forwards writes to the
// primary itself, so the client never needs to know the cluster topology.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/relaychat/coordinator/internal/store"
	"github.com/relaychat/coordinator/internal/wire"
)

// Client owns one persistent connection to a server.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Dial connects to addr with the given timeout.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// APIError is returned when the server answers with an {"type":"E",...}
// frame.
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return e.Message }

// roundTrip sends one frame and reads exactly one reply frame.
func (c *Client) roundTrip(code string, payload any) (wire.Frame, error) {
	req, err := wire.NewFrame(code, payload)
	if err != nil {
		return wire.Frame{}, err
	}
	data, err := req.Encode()
	if err != nil {
		return wire.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write(data); err != nil {
		return wire.Frame{}, fmt.Errorf("write request: %w", err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return wire.Frame{}, fmt.Errorf("read reply: %w", err)
	}
	var reply wire.Frame
	if err := json.Unmarshal(line, &reply); err != nil {
		return wire.Frame{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Type == wire.TypeError {
		var msg string
		json.Unmarshal(reply.Payload, &msg)
		return wire.Frame{}, &APIError{Message: msg}
	}
	return reply, nil
}

// Register creates a new account.
func (c *Client) Register(username, password string) error {
	_, err := c.roundTrip(wire.Register, wire.Credentials{Username: username, Password: password})
	return err
}

// LoginResult is what a successful Login returns: the account's stats, and
// any stored conversation delivered in the same round trip.
type LoginResult struct {
	Stats    wire.UserStatsPayload
	Messages map[string][]store.MessageRecord
}

// Login authenticates and returns the account's stats plus any pending
// messages. The server may push a bulk-messages frame before the stats
// reply; this call reads either one or two frames accordingly.
func (c *Client) Login(username, password string) (*LoginResult, error) {
	req, err := wire.NewFrame(wire.Login, wire.Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("write login: %w", err)
	}

	first, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	if first.Type == wire.TypeError {
		var msg string
		json.Unmarshal(first.Payload, &msg)
		return nil, &APIError{Message: msg}
	}

	result := &LoginResult{}
	statsFrame := first
	if first.Type == wire.TypeBulkMessages {
		if err := json.Unmarshal(first.Payload, &result.Messages); err != nil {
			return nil, fmt.Errorf("decode bulk messages: %w", err)
		}
		statsFrame, err = c.readFrame()
		if err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(statsFrame.Payload, &result.Stats); err != nil {
		return nil, fmt.Errorf("decode login stats: %w", err)
	}
	return result, nil
}

func (c *Client) readFrame() (wire.Frame, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return wire.Frame{}, fmt.Errorf("read reply: %w", err)
	}
	var f wire.Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return wire.Frame{}, fmt.Errorf("decode reply: %w", err)
	}
	return f, nil
}

// SendMessage sends message from sender to recipient.
func (c *Client) SendMessage(sender, recipient, message string) error {
	_, err := c.roundTrip(wire.SendMessage, wire.SendMessagePayload{
		Sender: sender, Recipient: recipient, Message: message,
	})
	return err
}

// GetMessages fetches username's full conversation, bucketed by other
// party.
func (c *Client) GetMessages(username string) (map[string][]store.MessageRecord, error) {
	reply, err := c.roundTrip(wire.GetMessages, wire.UsernameOnly{Username: username})
	if err != nil {
		return nil, err
	}
	var buckets map[string][]store.MessageRecord
	if err := json.Unmarshal(reply.Payload, &buckets); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return buckets, nil
}

// GetUserList returns every registered username.
func (c *Client) GetUserList() ([]string, error) {
	reply, err := c.roundTrip(wire.GetUserList, nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(reply.Payload, &names); err != nil {
		return nil, fmt.Errorf("decode user list: %w", err)
	}
	return names, nil
}

// DeleteMessage deletes the messages matching message/sender/receiver whose
// timestamp is within a second of the given ISO-8601 timestamp; if none
// match, the server deletes those matching message/sender/receiver alone.
func (c *Client) DeleteMessage(message, timestamp, sender, receiver string) error {
	_, err := c.roundTrip(wire.DeleteMessage, wire.DeleteMessagePayload{
		Message: message, Timestamp: timestamp, Sender: sender, Receiver: receiver,
	})
	return err
}

// DeleteUser removes an account and its messages.
func (c *Client) DeleteUser(username string) error {
	_, err := c.roundTrip(wire.DeleteUser, wire.UsernameOnly{Username: username})
	return err
}

// UpdateViewCount sets an account's remaining view count.
func (c *Client) UpdateViewCount(username string, count int) error {
	_, err := c.roundTrip(wire.UpdateViewCount, wire.UpdateViewCountPayload{
		Username: username, NewCount: count,
	})
	return err
}

// LogOff records the current time as username's last log-off time.
func (c *Client) LogOff(username string) error {
	_, err := c.roundTrip(wire.LogOff, wire.UsernameOnly{Username: username})
	return err
}

// GetUserStats fetches an account's view count and log-off time.
func (c *Client) GetUserStats(username string) (*wire.UserStatsPayload, error) {
	reply, err := c.roundTrip(wire.GetUserStats, wire.UsernameOnly{Username: username})
	if err != nil {
		return nil, err
	}
	var stats wire.UserStatsPayload
	if err := json.Unmarshal(reply.Payload, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}
