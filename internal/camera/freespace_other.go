//go:build !linux

package camera

import "fmt"

func FreeBytes(dir string) (uint64, error) {
	return 0, fmt.Errorf("free space not supported on this platform")
}
