package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/phantomrpc/crypto"
	"github.com/gosuda/phantomrpc/internal/wire"
)

func TestWriteReadFrameRoundTripPlaintext(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, nil, []byte("hello world")))

	got, err := wire.ReadFrame(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestWriteReadFrameRoundTripEncrypted(t *testing.T) {
	cipher, err := crypto.NewCipher([32]byte{1, 2, 3})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, cipher, []byte("secret payload")))

	got, err := wire.ReadFrame(&buf, cipher)
	require.NoError(t, err)
	assert.Equal(t, "secret payload", string(got))
}

func TestReadFrameLargerThanPoolSize(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 9000)

	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, nil, big))

	got, err := wire.ReadFrame(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestReadFrameZeroLengthIsRejected(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	buf.Write(hdr[:])

	_, err := wire.ReadFrame(&buf, nil)
	assert.Error(t, err)
}

func TestReadFrameOversizedIsRejected(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(hdr)

	_, err := wire.ReadFrame(&buf, nil)
	assert.Error(t, err)
}

func TestReadFrameEOFPropagates(t *testing.T) {
	var buf bytes.Buffer
	_, err := wire.ReadFrame(&buf, nil)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncatedBodyPropagatesError(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{0, 0, 0, 10}
	buf.Write(hdr)
	buf.WriteString("short")

	_, err := wire.ReadFrame(&buf, nil)
	assert.Error(t, err)
}

func TestMultipleFramesReadInOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, nil, []byte("first")))
	require.NoError(t, wire.WriteFrame(&buf, nil, []byte("second")))

	first, err := wire.ReadFrame(&buf, nil)
	require.NoError(t, err)
	second, err := wire.ReadFrame(&buf, nil)
	require.NoError(t, err)

	assert.Equal(t, "first", string(first))
	assert.Equal(t, "second", string(second))
}
