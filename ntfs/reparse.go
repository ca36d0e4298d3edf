package ntfs

import (
	"fmt"
	"strings"
)

// ReparseTag identifies the owner and format of a reparse point.
type ReparseTag uint32

const (
	TagMountPoint  ReparseTag = 0xA0000003
	TagHSM         ReparseTag = 0xC0000004
	TagSIS         ReparseTag = 0x80000007
	TagWIM         ReparseTag = 0x80000008
	TagDFS         ReparseTag = 0x8000000A
	TagSymlink     ReparseTag = 0xA000000C
	TagDedup       ReparseTag = 0x80000013
	TagNFS         ReparseTag = 0x80000014
	TagWOF         ReparseTag = 0x80000017
	TagWCI         ReparseTag = 0x80000018
	TagCloud       ReparseTag = 0x9000001A
	TagAppExecLink ReparseTag = 0x8000001B
	TagLXSymlink   ReparseTag = 0xA000001D
	TagAFUnix      ReparseTag = 0x80000023

	microsoftTagBit     ReparseTag = 0x80000000
	nameSurrogateTagBit ReparseTag = 0x20000000
)

// SymlinkFlagRelative marks a symbolic link whose substitute name is
// relative to the link's parent directory.
const SymlinkFlagRelative = 0x1

var reparseTagNames = map[ReparseTag]string{
	TagMountPoint:  "MOUNT_POINT",
	TagHSM:         "HSM",
	TagSIS:         "SIS",
	TagWIM:         "WIM",
	TagDFS:         "DFS",
	TagSymlink:     "SYMLINK",
	TagDedup:       "DEDUP",
	TagNFS:         "NFS",
	TagWOF:         "WOF",
	TagWCI:         "WCI",
	TagCloud:       "CLOUD",
	TagAppExecLink: "APPEXECLINK",
	TagLXSymlink:   "LX_SYMLINK",
	TagAFUnix:      "AF_UNIX",
}

func (t ReparseTag) String() string {
	if name, ok := reparseTagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(t))
}

func (t ReparseTag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// IsMicrosoft reports whether the tag is owned by Microsoft.
func (t ReparseTag) IsMicrosoft() bool { return t&microsoftTagBit != 0 }

// IsNameSurrogate reports whether the reparse point names another file.
func (t ReparseTag) IsNameSurrogate() bool { return t&nameSurrogateTagBit != 0 }

// ReparseKind discriminates the decoded variants of a ReparsePoint.
type ReparseKind int

const (
	KindOpaque ReparseKind = iota
	KindMountPoint
	KindSymbolicLink
)

func (k ReparseKind) String() string {
	switch k {
	case KindMountPoint:
		return "mount_point"
	case KindSymbolicLink:
		return "symbolic_link"
	default:
		return "opaque"
	}
}

func (k ReparseKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ReparsePoint is a decoded reparse buffer. Opaque points carry only Path,
// Tag and Kind. Mount points add Target and PrintName; symbolic links also
// carry Flags.
type ReparsePoint struct {
	Path      string      `json:"path"`
	Tag       ReparseTag  `json:"tag"`
	Kind      ReparseKind `json:"kind"`
	Target    string      `json:"target,omitempty"`
	PrintName string      `json:"print_name,omitempty"`
	Flags     uint32      `json:"flags,omitempty"`
}

// IsLink reports whether the point redirects to a target path.
func (r ReparsePoint) IsLink() bool {
	return r.Kind == KindMountPoint || r.Kind == KindSymbolicLink
}

// Relative reports whether a symbolic link target is relative.
func (r ReparsePoint) Relative() bool {
	return r.Kind == KindSymbolicLink && r.Flags&SymlinkFlagRelative != 0
}

// DecodeReparsePoint decodes a raw REPARSE_DATA_BUFFER as returned by
// FSCTL_GET_REPARSE_POINT. Tags other than mount points and symbolic links
// decode to the opaque variant without error.
func DecodeReparsePoint(path string, buf []byte) (ReparsePoint, error) {
	if len(buf) > MaxReparseBufferSize {
		return ReparsePoint{}, &FormatError{
			Field: "buffer", Length: len(buf), Size: MaxReparseBufferSize, Err: ErrBufferTooLarge,
		}
	}
	rawTag, err := readUint32(buf, 0, "tag")
	if err != nil {
		return ReparsePoint{}, err
	}
	dataLen, err := readUint16(buf, 4, "data length")
	if err != nil {
		return ReparsePoint{}, err
	}
	end := reparseHeaderSize + int(dataLen)
	if end > len(buf) {
		return ReparsePoint{}, &FormatError{Field: "data", Offset: reparseHeaderSize, Length: int(dataLen), Size: len(buf)}
	}
	buf = buf[:end]

	rp := ReparsePoint{Path: path, Tag: ReparseTag(rawTag), Kind: KindOpaque}
	switch rp.Tag {
	case TagMountPoint:
		rp.Kind = KindMountPoint
		sub, printName, err := decodeLinkNames(buf, mountPointPathOffset)
		if err != nil {
			return ReparsePoint{}, err
		}
		rp.Target = displayTarget(sub)
		rp.PrintName = printName
	case TagSymlink:
		rp.Kind = KindSymbolicLink
		if rp.Flags, err = readUint32(buf, mountPointPathOffset, "flags"); err != nil {
			return ReparsePoint{}, err
		}
		sub, printName, err := decodeLinkNames(buf, symlinkPathOffset)
		if err != nil {
			return ReparsePoint{}, err
		}
		if rp.Flags&SymlinkFlagRelative != 0 {
			rp.Target = sub
		} else {
			rp.Target = displayTarget(sub)
		}
		rp.PrintName = printName
	}
	return rp, nil
}

// decodeLinkNames reads the substitute and print names whose offsets are
// relative to the path buffer starting at base.
func decodeLinkNames(buf []byte, base int) (sub, printName string, err error) {
	var f [4]uint16
	for i, field := range []string{"substitute name offset", "substitute name length", "print name offset", "print name length"} {
		if f[i], err = readUint16(buf, reparseHeaderSize+2*i, field); err != nil {
			return "", "", err
		}
	}
	if base > len(buf) {
		return "", "", &FormatError{Field: "path buffer", Offset: base, Size: len(buf)}
	}
	subBytes, err := region(buf, base, f[0], f[1], "substitute name")
	if err != nil {
		return "", "", err
	}
	printBytes, err := region(buf, base, f[2], f[3], "print name")
	if err != nil {
		return "", "", err
	}
	return decodeUTF16(subBytes), decodeUTF16(printBytes), nil
}

// displayTarget converts an NT object path to the form users type:
// `\??\C:\x` becomes `C:\x`, `\??\UNC\srv\x` becomes `\\srv\x` and any
// other `\??\` path (volume GUIDs) keeps the `\\?\` prefix.
func displayTarget(s string) string {
	if !strings.HasPrefix(s, `\??\`) {
		return s
	}
	rest := s[4:]
	switch {
	case len(rest) >= 4 && strings.EqualFold(rest[:4], `UNC\`):
		return `\\` + rest[4:]
	case isDrivePath(rest):
		return rest
	default:
		return `\\?\` + rest
	}
}

func isDrivePath(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0] | 0x20
	return c >= 'a' && c <= 'z'
}

// isAbsoluteTarget accepts drive paths with a root (`C:\x`), UNC paths and
// paths already carrying the NT or Win32 long-path prefix. `C:x` is relative
// to the current directory of drive C and is rejected.
func isAbsoluteTarget(p string) bool {
	p = strings.ReplaceAll(p, "/", `\`)
	if strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, `\??\`) {
		return true
	}
	return isDrivePath(p) && len(p) > 2 && p[2] == '\\'
}

// ntObjectPath prefixes p with `\??\` unless it already carries the NT or
// the Win32 long-path prefix. UNC paths map to `\??\UNC\`.
func ntObjectPath(p string) string {
	p = strings.ReplaceAll(p, "/", `\`)
	switch {
	case strings.HasPrefix(p, `\??\`):
		return p
	case strings.HasPrefix(p, `\\?\`):
		return `\??\` + p[4:]
	case strings.HasPrefix(p, `\\`):
		return `\??\UNC\` + p[2:]
	default:
		return `\??\` + p
	}
}

// JunctionTarget returns the substitute name a junction to target stores:
// the NT object path with exactly one trailing separator. target must be
// absolute.
func JunctionTarget(target string) string {
	return strings.TrimRight(ntObjectPath(target), `\`) + `\`
}

// EncodeJunction builds the REPARSE_DATA_BUFFER that turns an empty
// directory into a junction pointing at target.
func EncodeJunction(target string) ([]byte, error) {
	if strings.TrimSpace(target) == "" {
		return nil, invalidArgument(fmt.Errorf("empty junction target"))
	}
	if !isAbsoluteTarget(target) {
		return nil, invalidArgument(fmt.Errorf("junction target %q is not absolute", target))
	}
	sub := JunctionTarget(target)
	return encodeLink(TagMountPoint, sub, displayTarget(sub), nil)
}

// EncodeSymbolicLink builds a symbolic link reparse buffer. Relative targets
// are stored as given.
func EncodeSymbolicLink(target string, relative bool) ([]byte, error) {
	if strings.TrimSpace(target) == "" {
		return nil, invalidArgument(fmt.Errorf("empty symbolic link target"))
	}
	var flags uint32
	sub := strings.ReplaceAll(target, "/", `\`)
	if relative {
		flags = SymlinkFlagRelative
	} else {
		sub = ntObjectPath(sub)
	}
	return encodeLink(TagSymlink, sub, displayTarget(sub), &flags)
}

// encodeLink lays out both names NUL-terminated in the path buffer, the
// substitute name first. flags is nil for mount points.
func encodeLink(tag ReparseTag, sub, printName string, flags *uint32) ([]byte, error) {
	subBytes, err := encodeUTF16(sub)
	if err != nil {
		return nil, invalidArgument(err)
	}
	printBytes, err := encodeUTF16(printName)
	if err != nil {
		return nil, invalidArgument(err)
	}
	pathOffset := mountPointPathOffset
	if flags != nil {
		pathOffset = symlinkPathOffset
	}
	pathBufLen := len(subBytes) + wcharSize + len(printBytes) + wcharSize
	total := pathOffset + pathBufLen
	if total > MaxReparseBufferSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBufferTooLarge, total)
	}

	buf := make([]byte, total)
	le.PutUint32(buf[0:4], uint32(tag))
	le.PutUint16(buf[4:6], uint16(total-reparseHeaderSize))
	// buf[6:8] reserved
	le.PutUint16(buf[8:10], 0)
	le.PutUint16(buf[10:12], uint16(len(subBytes)))
	le.PutUint16(buf[12:14], uint16(len(subBytes)+wcharSize))
	le.PutUint16(buf[14:16], uint16(len(printBytes)))
	if flags != nil {
		le.PutUint32(buf[16:20], *flags)
	}
	copy(buf[pathOffset:], subBytes)
	copy(buf[pathOffset+len(subBytes)+wcharSize:], printBytes)
	return buf, nil
}

// encodeDelete builds the FSCTL_DELETE_REPARSE_POINT input for the reparse
// point described by existing: the header with a zero data length, plus the
// owner GUID for non-Microsoft tags.
func encodeDelete(existing []byte) ([]byte, error) {
	rawTag, err := readUint32(existing, 0, "tag")
	if err != nil {
		return nil, err
	}
	tag := ReparseTag(rawTag)
	if tag.IsMicrosoft() {
		buf := make([]byte, reparseHeaderSize)
		le.PutUint32(buf[0:4], rawTag)
		return buf, nil
	}
	if len(existing) < reparseGUIDHeaderSize {
		return nil, &FormatError{Field: "reparse guid", Offset: reparseHeaderSize, Length: 16, Size: len(existing)}
	}
	buf := make([]byte, reparseGUIDHeaderSize)
	le.PutUint32(buf[0:4], rawTag)
	copy(buf[reparseHeaderSize:], existing[reparseHeaderSize:reparseGUIDHeaderSize])
	return buf, nil
}
