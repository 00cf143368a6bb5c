package hwio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProbe(t *testing.T, root, id, contents string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1_slave"), []byte(contents), 0644))
}

func TestOneWireSourceReadParsesTemperature(t *testing.T) {
	root := t.TempDir()
	writeProbe(t, root, "28-000001",
		"3c 01 4b 46 7f ff 0c 10 2e : crc=2e YES\n3c 01 4b 46 7f ff 0c 10 2e t=19250\n")

	src := NewOneWireSource(root)
	temp, err := src.Read("28-000001")
	require.NoError(t, err)
	assert.InDelta(t, 19.25, (float64(temp)-27315)/100.0, 0.01)
}

func TestOneWireSourceReadFailsCRCCheck(t *testing.T) {
	root := t.TempDir()
	writeProbe(t, root, "28-000002",
		"3c 01 4b 46 7f ff 0c 10 2e : crc=2e NO\n3c 01 4b 46 7f ff 0c 10 2e t=19250\n")

	src := NewOneWireSource(root)
	_, err := src.Read("28-000002")
	assert.Error(t, err)
}

func TestOneWireSourceReadMissingProbeErrors(t *testing.T) {
	root := t.TempDir()
	src := NewOneWireSource(root)
	_, err := src.Read("28-missing")
	assert.Error(t, err)
}
