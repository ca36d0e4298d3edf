//go:build windows
// +build windows

package ntfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func TestListStreamsScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download.bin")
	require.NoError(t, os.WriteFile(path, []byte("primary"), 0o644))
	require.NoError(t, os.WriteFile(path+":Zone.Identifier", []byte("[ZoneTransfe"), 0o644))
	require.NoError(t, os.WriteFile(path+":Foo", nil, 0o644))

	streams, err := ListStreams(path)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, "Zone.Identifier", streams[0].Name)
	assert.Equal(t, int64(12), streams[0].Size)
	assert.Equal(t, StreamAlternateData, streams[0].Type)
	assert.Equal(t, "Foo", streams[1].Name)
	assert.Equal(t, int64(0), streams[1].Size)

	again, err := ListStreams(path)
	require.NoError(t, err)
	assert.Equal(t, streams, again)

	rc, err := OpenStream(path, "Zone.Identifier")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "[ZoneTransfe", string(data))

	require.NoError(t, RemoveStream(path, "Foo"))
	streams, err = ListStreams(path)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "Zone.Identifier", streams[0].Name)
}

func TestListStreamsMissingFile(t *testing.T) {
	streams, err := ListStreams(filepath.Join(t.TempDir(), "missing.txt"))
	assert.NoError(t, err)
	assert.Empty(t, streams)
}

func TestListStreamsRejectsCharacterDevice(t *testing.T) {
	streams, err := ListStreams(`\\.\NUL`)
	assert.Nil(t, streams)
	require.ErrorIs(t, err, ErrNotSupported)
	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, `\\.\NUL`, opErr.Path)
}

func TestListStreamsSurfacesOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	p, err := windows.UTF16PtrFromString(path)
	require.NoError(t, err)
	// No sharing: every other open of the file fails.
	h, err := windows.CreateFile(p, windows.GENERIC_READ, 0, nil, windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0)
	require.NoError(t, err)
	defer windows.CloseHandle(h)

	streams, err := ListStreams(path)
	assert.Nil(t, streams)
	var opErr *OpError
	require.True(t, errors.As(err, &opErr), "got %v", err)
	assert.Equal(t, "open", opErr.Op)
	assert.ErrorIs(t, err, windows.ERROR_SHARING_VIOLATION)
}

func TestJunctionRelativeTarget(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.Mkdir("target", 0o755))
	require.NoError(t, os.Mkdir("link", 0o755))

	require.NoError(t, CreateJunction("link", "target"))
	rp, err := GetReparsePoint("link")
	require.NoError(t, err)
	want, err := filepath.Abs("target")
	require.NoError(t, err)
	assert.Equal(t, want+`\`, rp.Target)
	require.NoError(t, DeleteReparsePoint("link"))
}

func TestJunctionLifecycle(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.Mkdir(link, 0o755))

	require.NoError(t, CreateJunction(link, target))

	ok, err := IsReparsePoint(link)
	require.NoError(t, err)
	assert.True(t, ok)

	rp, err := GetReparsePoint(link)
	require.NoError(t, err)
	assert.Equal(t, KindMountPoint, rp.Kind)
	assert.Equal(t, TagMountPoint, rp.Tag)
	assert.Equal(t, target+`\`, rp.Target)

	raw, err := GetReparsePointData(link)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), MaxReparseBufferSize)

	require.NoError(t, DeleteReparsePoint(link))
	ok, err = IsReparsePoint(link)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = GetReparsePoint(link)
	assert.ErrorIs(t, err, ErrNotReparsePoint)
}

func TestIsReparsePointMissing(t *testing.T) {
	ok, err := IsReparsePoint(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEnablePrivilegesIsRepeatable(t *testing.T) {
	first := EnablePrivileges()
	assert.Equal(t, first, EnablePrivileges())
}
