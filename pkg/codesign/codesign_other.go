//go:build !darwin

package codesign

// identityPath has no code-signing backend outside darwin.
func identityPath(pid int) (string, error) {
	return "", nil
}
