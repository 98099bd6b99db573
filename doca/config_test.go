package doca_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartnickit-project/godoca/doca"
)

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	descPath := filepath.Join(dir, "desc.txt")
	infoPath := filepath.Join(dir, "info.txt")

	desc := []byte{0xde, 0xad, 0xbe, 0xef}
	region := make([]byte, 4096)
	local := doca.RawPointerOf(region)

	require.NoError(t, doca.SaveConfig(desc, local, descPath, infoPath))

	gotDesc, gotRange, err := doca.LoadConfig(descPath, infoPath)
	require.NoError(t, err)
	require.Equal(t, desc, gotDesc)
	require.Equal(t, local.Addr(), gotRange.Addr())
	require.Equal(t, local.Len, gotRange.Len)
}

func TestSaveConfigDescriptorBounds(t *testing.T) {
	dir := t.TempDir()
	descPath := filepath.Join(dir, "desc.txt")
	infoPath := filepath.Join(dir, "info.txt")
	local := doca.RawPointerOf(make([]byte, 16))

	err := doca.SaveConfig(nil, local, descPath, infoPath)
	require.Error(t, err)
	require.Equal(t, doca.ErrorInvalidValue, doca.CodeOf(err))

	oversized := make([]byte, doca.MaxExportDescLen+1)
	err = doca.SaveConfig(oversized, local, descPath, infoPath)
	require.Error(t, err)
	require.Equal(t, doca.ErrorInvalidValue, doca.CodeOf(err))
}

func TestLoadConfigMissingFiles(t *testing.T) {
	dir := t.TempDir()

	_, _, err := doca.LoadConfig(filepath.Join(dir, "nope.txt"), filepath.Join(dir, "also-nope.txt"))
	require.Error(t, err)
	require.Equal(t, doca.ErrorIOFailed, doca.CodeOf(err))
}

func TestLoadConfigMalformedInfo(t *testing.T) {
	dir := t.TempDir()
	descPath := filepath.Join(dir, "desc.txt")
	infoPath := filepath.Join(dir, "info.txt")
	require.NoError(t, os.WriteFile(descPath, []byte{1, 2, 3}, 0o644))

	for _, body := range []string{
		"",
		"140737488355328\n",
		"not-a-number\n4096\n",
		"140737488355328\n-1\n",
	} {
		require.NoError(t, os.WriteFile(infoPath, []byte(body), 0o644))
		_, _, err := doca.LoadConfig(descPath, infoPath)
		require.Errorf(t, err, "info file %q should not parse", body)
		require.Equal(t, doca.ErrorInvalidValue, doca.CodeOf(err))
	}
}
