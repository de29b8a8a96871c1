//go:build !cuda

package backend

import "fmt"

func Has(name string) bool {
	return name == CPU
}

func cudaDevicePresent(int) error {
	return fmt.Errorf("%w: built without the cuda tag", ErrCUDAUnavailable)
}
