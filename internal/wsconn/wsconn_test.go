package wsconn

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWS struct {
	readData      [][]byte
	readIndex     int
	writeData     [][]byte
	closeCalled   bool
	nextReaderErr error
	writeErr      error
}

func (m *mockWS) NextReader() (int, io.Reader, error) {
	if m.nextReaderErr != nil {
		return 0, nil, m.nextReaderErr
	}
	if m.readIndex >= len(m.readData) {
		return 0, nil, io.EOF
	}
	data := m.readData[m.readIndex]
	m.readIndex++
	return websocket.BinaryMessage, bytes.NewReader(data), nil
}

func (m *mockWS) WriteMessage(_ int, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	cp := append([]byte(nil), data...)
	m.writeData = append(m.writeData, cp)
	return nil
}

func (m *mockWS) Close() error                    { m.closeCalled = true; return nil }
func (m *mockWS) SetReadDeadline(time.Time) error  { return nil }
func (m *mockWS) SetWriteDeadline(time.Time) error { return nil }
func (m *mockWS) LocalAddr() net.Addr              { return nil }
func (m *mockWS) RemoteAddr() net.Addr             { return nil }

func TestReadSingleMessage(t *testing.T) {
	mock := &mockWS{readData: [][]byte{{1, 2, 3, 4, 5}}}
	c := &Conn{ws: mock}

	buf := make([]byte, 10)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf[:5])
}

func TestReadMultipleMessagesSequentially(t *testing.T) {
	mock := &mockWS{readData: [][]byte{{1, 2}, {3, 4}}}
	c := &Conn{ws: mock}

	buf := make([]byte, 10)
	n1, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n1)

	n2, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n2)
	assert.Equal(t, []byte{3, 4}, buf[:2])
}

func TestReadEmptyBufferIsNoop(t *testing.T) {
	c := &Conn{ws: &mockWS{}}
	n, err := c.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReadEOFAfterMessages(t *testing.T) {
	mock := &mockWS{readData: [][]byte{{1, 2}}}
	c := &Conn{ws: mock}

	buf := make([]byte, 10)
	_, err := c.Read(buf)
	require.NoError(t, err)

	_, err = c.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadCloseErrorBecomesEOF(t *testing.T) {
	mock := &mockWS{nextReaderErr: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
	c := &Conn{ws: mock}

	buf := make([]byte, 10)
	_, err := c.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadOtherErrorPropagates(t *testing.T) {
	mock := &mockWS{nextReaderErr: errors.New("connection reset")}
	c := &Conn{ws: mock}

	_, err := c.Read(make([]byte, 10))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestWriteSuccess(t *testing.T) {
	mock := &mockWS{}
	c := &Conn{ws: mock}

	n, err := c.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, mock.writeData, 1)
	assert.Equal(t, []byte{1, 2, 3}, mock.writeData[0])
}

func TestWriteCloseErrorBecomesEOF(t *testing.T) {
	mock := &mockWS{writeErr: &websocket.CloseError{Code: websocket.CloseGoingAway}}
	c := &Conn{ws: mock}

	_, err := c.Write([]byte{1})
	assert.ErrorIs(t, err, io.EOF)
}

func TestClose(t *testing.T) {
	mock := &mockWS{}
	c := &Conn{ws: mock}

	require.NoError(t, c.Close())
	assert.True(t, mock.closeCalled)
}
