package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPort struct {
	bytes.Buffer
	flushes  int
	writeErr error
}

func (m *mockPort) Write(b []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.Buffer.Write(b)
}

func (m *mockPort) Close() error { return nil }
func (m *mockPort) Flush() error { m.flushes++; return nil }

func TestLineWriter(t *testing.T) {
	p := &mockPort{}
	w := NewLineWriter(p)

	require.NoError(t, w.WriteLine("pos X:1.000"))
	require.NoError(t, w.WriteLine(""))
	assert.Equal(t, "pos X:1.000\r\n\r\n", p.String())
	assert.Equal(t, 2, p.flushes)

	p.writeErr = errors.New("unplugged")
	assert.ErrorIs(t, w.WriteLine("x"), p.writeErr)
	assert.Equal(t, 2, p.flushes)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 115200, cfg.Baud)
}

func TestOpenRequiresDevice(t *testing.T) {
	_, err := Open(nil)
	assert.ErrorIs(t, err, ErrNoDevice)
	_, err = Open(&Config{Baud: 115200})
	assert.ErrorIs(t, err, ErrNoDevice)
}
