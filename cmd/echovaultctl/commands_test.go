package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/matheus3301/echovault/internal/wa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintAuthEvent(t *testing.T) {
	var out bytes.Buffer
	done, err := printAuthEvent(&out, &wa.AuthEvent{Type: wa.AuthEventQRCode, QRCode: "2@abc,def"}, false)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Contains(t, out.String(), "Linked devices")
	assert.Greater(t, strings.Count(out.String(), "\n"), 10)

	out.Reset()
	done, err = printAuthEvent(&out, &wa.AuthEvent{Type: wa.AuthEventAuthenticated}, false)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "Device linked.\n", out.String())

	done, err = printAuthEvent(&out, &wa.AuthEvent{Type: wa.AuthEventTimeout, Message: "no scan"}, false)
	assert.True(t, done)
	assert.ErrorContains(t, err, "no scan")
}

func TestTestEmailNeedsTarget(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"test-email"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "--to"))
}

func TestDaemonUnreachable(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--home", t.TempDir(), "--timeout", "200ms", "status"})
	root.SetOut(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}
