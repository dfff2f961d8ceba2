package pathutil

import (
	"path/filepath"
	"strings"
)

// Resolve returns the absolute path of p with every symlink and relative
// component resolved. It fails when p, or any directory along it, no longer
// exists.
func Resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Canonicalize resolves raw like Resolve but never fails: when resolution is
// impossible the raw path is returned unchanged. An empty input stays empty.
func Canonicalize(raw string) string {
	if raw == "" {
		return ""
	}
	resolved, err := Resolve(raw)
	if err != nil {
		return raw
	}
	return resolved
}

// CString converts a NUL-terminated byte buffer filled by the kernel into a
// Go string.
func CString(buf []byte) string {
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}
