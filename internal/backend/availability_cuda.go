//go:build cuda

package backend

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// nvidiaDeviceNode is the character device the driver creates per GPU.
const nvidiaDeviceNode = "/dev/nvidia%d"

func Has(name string) bool {
	switch name {
	case CUDA:
		return true
	default:
		return name == CPU
	}
}

// cudaDevicePresent checks at run time that the driver exposes GPU ordinal.
func cudaDevicePresent(ordinal int) error {
	if ordinal < 0 {
		return fmt.Errorf("%w: negative ordinal %d", ErrCUDAUnavailable, ordinal)
	}
	node := fmt.Sprintf(nvidiaDeviceNode, ordinal)
	if err := unix.Access(node, unix.F_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCUDAUnavailable, node, err)
	}
	return nil
}
