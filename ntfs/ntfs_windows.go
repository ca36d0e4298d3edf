//go:build windows
// +build windows

package ntfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	fsctlSetReparsePoint    = 0x000900A4
	fsctlGetReparsePoint    = 0x000900A8
	fsctlDeleteReparsePoint = 0x000900AC

	symbolicLinkFlagAllowUnprivilegedCreate = 0x2
)

var (
	k32            = windows.NewLazySystemDLL("kernel32.dll")
	procBackupRead = k32.NewProc("BackupRead")
	procBackupSeek = k32.NewProc("BackupSeek")
)

// backupStream is the BackupRead context of one handle.
type backupStream struct {
	handle  windows.Handle
	context uintptr
}

func (b *backupStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n uint32
	r1, _, err := procBackupRead.Call(
		uintptr(b.handle),
		uintptr(unsafe.Pointer(&p[0])),
		uintptr(uint32(len(p))),
		uintptr(unsafe.Pointer(&n)),
		0, // bAbort
		0, // bProcessSecurity
		uintptr(unsafe.Pointer(&b.context)),
	)
	if r1 == 0 {
		return int(n), err
	}
	return int(n), nil
}

func (b *backupStream) Seek(n int64) error {
	var low, high uint32
	r1, _, err := procBackupSeek.Call(
		uintptr(b.handle),
		uintptr(uint32(n)),
		uintptr(uint32(uint64(n)>>32)),
		uintptr(unsafe.Pointer(&low)),
		uintptr(unsafe.Pointer(&high)),
		uintptr(unsafe.Pointer(&b.context)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

func (b *backupStream) Abort() error {
	if b.context == 0 {
		return nil
	}
	var n uint32
	r1, _, err := procBackupRead.Call(
		uintptr(b.handle),
		0,
		0,
		uintptr(unsafe.Pointer(&n)),
		1, // bAbort
		0,
		uintptr(unsafe.Pointer(&b.context)),
	)
	b.context = 0
	if r1 == 0 {
		return err
	}
	return nil
}

func openFile(path string, access, share, flags uint32) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return windows.InvalidHandle, invalidArgument(err)
	}
	return windows.CreateFile(p, access, share, nil, windows.OPEN_EXISTING, flags, 0)
}

func isNotFound(err error) bool {
	return errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND)
}

func fileAttributes(path string) (uint32, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, invalidArgument(err)
	}
	return windows.GetFileAttributes(p)
}

func listStreams(path string) ([]StreamRecord, error) {
	h, err := openFile(path, windows.GENERIC_READ, windows.FILE_SHARE_READ, windows.FILE_FLAG_BACKUP_SEMANTICS)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &OpError{Op: "open", Path: path, Err: err}
	}
	defer windows.CloseHandle(h)

	ft, err := windows.GetFileType(h)
	if err != nil {
		return nil, &OpError{Op: "GetFileType", Path: path, Err: err}
	}
	if ft != windows.FILE_TYPE_DISK {
		return nil, &OpError{Op: "list streams", Path: path, Err: ErrNotSupported}
	}
	return enumerateStreams(&backupStream{handle: h}), nil
}

var (
	privilegeOnce sync.Once
	privilegeErr  error
)

func enablePrivileges() error {
	privilegeOnce.Do(func() {
		privilegeErr = adjustPrivileges("SeBackupPrivilege", "SeRestorePrivilege")
	})
	return privilegeErr
}

func adjustPrivileges(names ...string) error {
	var token windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		return &OpError{Op: "OpenProcessToken", Err: err}
	}
	defer token.Close()

	for _, name := range names {
		namePtr, err := windows.UTF16PtrFromString(name)
		if err != nil {
			return err
		}
		var luid windows.LUID
		if err := windows.LookupPrivilegeValue(nil, namePtr, &luid); err != nil {
			return &OpError{Op: "LookupPrivilegeValue", Path: name, Err: err}
		}
		tp := windows.Tokenprivileges{PrivilegeCount: 1}
		tp.Privileges[0] = windows.LUIDAndAttributes{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED}
		if err := windows.AdjustTokenPrivileges(token, false, &tp, 0, nil, nil); err != nil {
			return &OpError{Op: "AdjustTokenPrivileges", Path: name, Err: err}
		}
	}
	return nil
}

// openReparsePoint opens path itself rather than what it points to.
// Directories are opened through a trailing separator.
func openReparsePoint(path string, access uint32) (windows.Handle, error) {
	_ = enablePrivileges()
	if attrs, err := fileAttributes(path); err == nil && attrs&windows.FILE_ATTRIBUTE_DIRECTORY != 0 {
		if !strings.HasSuffix(path, `\`) && !strings.HasSuffix(path, "/") {
			path += `\`
		}
	}
	return openFile(path, access,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OPEN_REPARSE_POINT)
}

func getReparsePointData(path string) ([]byte, error) {
	h, err := openReparsePoint(path, windows.GENERIC_READ)
	if err != nil {
		return nil, &OpError{Op: "open", Path: path, Err: err}
	}
	defer windows.CloseHandle(h)

	buf := make([]byte, MaxReparseBufferSize)
	var n uint32
	err = windows.DeviceIoControl(h, fsctlGetReparsePoint, nil, 0, &buf[0], uint32(len(buf)), &n, nil)
	if err != nil {
		if errors.Is(err, windows.ERROR_NOT_A_REPARSE_POINT) {
			return nil, &OpError{Op: "FSCTL_GET_REPARSE_POINT", Path: path, Err: ErrNotReparsePoint}
		}
		return nil, &OpError{Op: "FSCTL_GET_REPARSE_POINT", Path: path, Err: err}
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

func setReparsePoint(path string, buf []byte) error {
	return controlWrite(path, "FSCTL_SET_REPARSE_POINT", fsctlSetReparsePoint, buf)
}

func deleteReparsePoint(path string, buf []byte) error {
	return controlWrite(path, "FSCTL_DELETE_REPARSE_POINT", fsctlDeleteReparsePoint, buf)
}

func controlWrite(path, op string, code uint32, buf []byte) error {
	h, err := openReparsePoint(path, windows.GENERIC_WRITE)
	if err != nil {
		return &OpError{Op: "open", Path: path, Err: err}
	}
	defer windows.CloseHandle(h)

	var n uint32
	if err := windows.DeviceIoControl(h, code, &buf[0], uint32(len(buf)), nil, 0, &n, nil); err != nil {
		return &OpError{Op: op, Path: path, Err: err}
	}
	return nil
}

func createSymbolicLink(linkPath, targetPath string) error {
	link, err := windows.UTF16PtrFromString(linkPath)
	if err != nil {
		return invalidArgument(err)
	}
	target, err := windows.UTF16PtrFromString(strings.ReplaceAll(targetPath, "/", `\`))
	if err != nil {
		return invalidArgument(err)
	}

	resolved := targetPath
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(linkPath), resolved)
	}
	var flags uint32 = symbolicLinkFlagAllowUnprivilegedCreate
	if attrs, err := fileAttributes(resolved); err == nil && attrs&windows.FILE_ATTRIBUTE_DIRECTORY != 0 {
		flags |= windows.SYMBOLIC_LINK_FLAG_DIRECTORY
	}

	err = windows.CreateSymbolicLink(link, target, flags)
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
		// Builds before Windows 10 1703 reject the unprivileged flag.
		err = windows.CreateSymbolicLink(link, target, flags&^symbolicLinkFlagAllowUnprivilegedCreate)
	}
	if err != nil {
		return &OpError{Op: "CreateSymbolicLink", Path: linkPath, Err: err}
	}
	return nil
}

func isReparsePoint(path string) (bool, error) {
	attrs, err := fileAttributes(path)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &OpError{Op: "GetFileAttributes", Path: path, Err: err}
	}
	return attrs&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0, nil
}

func openStream(path, name string) (io.ReadCloser, error) {
	f, err := os.Open(streamPath(path, name))
	if err != nil {
		return nil, &OpError{Op: "open stream", Path: streamPath(path, name), Err: err}
	}
	return f, nil
}

func removeStream(path, name string) error {
	p, err := windows.UTF16PtrFromString(streamPath(path, name))
	if err != nil {
		return invalidArgument(err)
	}
	if err := windows.DeleteFile(p); err != nil {
		return &OpError{Op: "delete stream", Path: streamPath(path, name), Err: err}
	}
	return nil
}
