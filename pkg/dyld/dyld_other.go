//go:build !darwin

package dyld

func SelfTable() (Table, error) {
	return nil, ErrUnsupported
}
