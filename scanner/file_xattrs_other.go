//go:build !linux && !darwin && !freebsd

package scanner

// On Windows extended attributes surface as the EA_DATA backup stream and
// are reported by the streams module instead.
func getXattrs(path string, maxValueSize int) (map[string]string, error) {
	return nil, errNotSupported
}
