package sshexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinArgv(t *testing.T) {
	assert.Equal(t, "docker ps --all", joinArgv([]string{"docker", "ps", "--all"}))
	assert.Equal(t, "docker", joinArgv([]string{"docker"}))
	assert.Equal(t, "", joinArgv(nil))
}

func TestLimitedBufferCapsAt8MiB(t *testing.T) {
	b := &limitedBuffer{}
	chunk := make([]byte, 1<<20)
	for i := range chunk {
		chunk[i] = 'x'
	}
	for i := 0; i < 10; i++ {
		n, err := b.Write(chunk)
		assert.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}
	assert.LessOrEqual(t, len(b.Bytes()), 8<<20)
}

func TestReconnectBackoffBounds(t *testing.T) {
	b := ReconnectBackoff()
	first := b.NextBackOff()
	assert.GreaterOrEqual(t, first.Nanoseconds(), int64(0))
}
