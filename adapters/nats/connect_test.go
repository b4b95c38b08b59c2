package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReuseConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	connect := ReuseConnection(NewTestContainer(t))
	nc1, release1, err := connect()
	require.NoError(t, err)
	require.True(t, nc1.IsConnected())

	nc2, release2, err := connect()
	require.NoError(t, err)
	require.Same(t, nc1, nc2)

	release1()
	release1()
	require.True(t, nc1.IsConnected(), "second lease keeps the connection open")

	release2()
	require.True(t, nc1.IsClosed())

	nc3, release3, err := connect()
	require.NoError(t, err)
	require.NotSame(t, nc1, nc3)
	require.True(t, nc3.IsConnected())
	release3()
}
