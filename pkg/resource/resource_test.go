package resource

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReaderChunked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	r, err := OpenFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	buf, err := r.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf)

	rest, err := r.Read(-1)
	require.NoError(t, err)
	assert.Equal(t, []byte(" world"), rest)

	eof, err := r.Read(5)
	require.NoError(t, err)
	assert.Empty(t, eof)
}

func TestFileWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")

	w, err := CreateFileWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("first ")))
	require.NoError(t, w.Write([]byte("second")))
	require.NoError(t, w.WriteEOF())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first second", string(data))
}

func TestBytesReaderDrain(t *testing.T) {
	r := NewBytesReader([]byte("abcdef"))

	buf, err := r.Read(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), buf)

	buf, err = r.Read(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("ef"), buf)

	buf, err = r.Read(4)
	require.NoError(t, err)
	assert.Empty(t, buf)
}

func TestPump(t *testing.T) {
	payload := strings.Repeat("chunked-", 1024)
	src := NewBytesReader([]byte(payload))
	dst := NewBytesWriter()

	require.NoError(t, Pump(src, dst))
	assert.Equal(t, payload, string(dst.Bytes()))
}

func TestPumpNilEndpoints(t *testing.T) {
	assert.NoError(t, Pump(nil, NewBytesWriter()))
	assert.NoError(t, Pump(NewBytesReader([]byte("x")), nil))
}

func TestReadAll(t *testing.T) {
	data, err := ReadAll(NewBytesReader([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestStreamReaderEOF(t *testing.T) {
	r := NewStreamReader(strings.NewReader("xy"))

	buf, err := r.Read(8)
	require.NoError(t, err)
	assert.Equal(t, []byte("xy"), buf)

	buf, err = r.Read(8)
	require.NoError(t, err)
	assert.Empty(t, buf)
}
