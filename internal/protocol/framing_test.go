// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":   {},
		"small":   []byte(`{"action":"ping"}`),
		"unicode": []byte(`{"app":"trüai","note":"日本語"}`),
		// Larger than any single read a pipe or bufio.Reader will deliver.
		"large": []byte(`{"pad":"` + strings.Repeat("x", 1<<20) + `"}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, payload))
			assert.Equal(t, 4+len(payload), buf.Len())
			assert.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

			got, err := ReadMessage(iotest.HalfReader(&buf))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, got), "payload differs after round trip")
		})
	}
}

func TestReadMessageOneByteAtATime(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"action":"getCredentials","app":"truai"}`)
	require.NoError(t, WriteMessage(&buf, payload))

	got, err := ReadMessage(iotest.OneByteReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadMessageEndOfStream(t *testing.T) {
	for _, in := range [][]byte{nil, {0x01}, {0x01, 0x00, 0x00}} {
		_, err := ReadMessage(bytes.NewReader(in))
		assert.ErrorIs(t, err, ErrEndOfStream, "input %v", in)
	}
}

func TestReadMessageShortPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{10, 0, 0, 0})
	buf.WriteString("short")

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrProtocolFraming)
}

func TestReadMessageOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrProtocolFraming)
}

func TestReadMessageLeavesFollowingFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("one")))
	require.NoError(t, WriteMessage(&buf, []byte("two")))

	first, err := ReadMessage(&buf)
	require.NoError(t, err)
	second, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))
	assert.Equal(t, "two", string(second))
}

func TestEncodeDecodeResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Found(Credentials{Username: "alice", Password: "p@ss"})))

	raw, err := ReadMessage(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"credentials":{"username":"alice","password":"p@ss"}}`, string(raw))

	var resp Response
	require.NoError(t, Decode(&buf, &resp))
	require.NotNil(t, resp.Credentials)
	assert.Equal(t, "alice", resp.Credentials.Username)
}

func TestResponseShapes(t *testing.T) {
	cases := []struct {
		resp *Response
		want string
	}{
		{Pong(), `{"success":true,"message":"Native host operational"}`},
		{NotFound("unknownapp"), `{"success":false,"error":"Credentials not found for unknownapp"}`},
		{UnknownAction("bogus"), `{"success":false,"error":"Unknown action: bogus"}`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.resp)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(data))
	}
}

func TestCredentialsStringRedactsPassword(t *testing.T) {
	c := Credentials{Username: "alice", Password: "p@ss"}
	assert.NotContains(t, c.String(), "p@ss")
	assert.Contains(t, c.String(), "alice")
}
