package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/coordinator/internal/wire"
)

func TestCredentialsRoundTrip(t *testing.T) {
	c := wire.Credentials{Username: "alice", Password: "secret"}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `["alice","secret"]`, string(data))

	var decoded wire.Credentials
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, c, decoded)
}

func TestUsernameOnlyAcceptsArrayOrObject(t *testing.T) {
	var fromArray wire.UsernameOnly
	require.NoError(t, json.Unmarshal([]byte(`["bob"]`), &fromArray))
	assert.Equal(t, "bob", fromArray.Username)

	var fromObject wire.UsernameOnly
	require.NoError(t, json.Unmarshal([]byte(`{"username":"bob"}`), &fromObject))
	assert.Equal(t, "bob", fromObject.Username)
}

func TestBytesValueRoundTrip(t *testing.T) {
	original := wire.BytesValue("hashed-password")
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded wire.BytesValue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestFrameEncodeIsNewlineTerminated(t *testing.T) {
	f := wire.Success("ok")
	data, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	var decoded wire.Frame
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &decoded))
	assert.Equal(t, wire.TypeSuccess, decoded.Type)
}

func TestIsWriteClassifiesOperations(t *testing.T) {
	assert.True(t, wire.IsWrite(wire.Register))
	assert.True(t, wire.IsWrite(wire.SendMessage))
	assert.False(t, wire.IsWrite(wire.Login))
	assert.False(t, wire.IsWrite(wire.GetMessages))
}
