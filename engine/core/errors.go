package core

import (
	"errors"
)

var (
	ErrContractViolation            = errors.New("contract violation")
	ErrResidentDescriptorsExhausted = errors.New("resident descriptor table exhausted")
	ErrDynamicTableMisuse           = errors.New("dynamic descriptor table misuse")
	ErrDeviceLost                   = errors.New("device lost")
	ErrOutOfMemory                  = errors.New("out of device memory")
	ErrNotMappable                  = errors.New("allocation is not CPU mappable")
	ErrQueueClosed                  = errors.New("queue has been shut down")
	ErrUnsupported                  = errors.New("operation not supported by this driver")
	ErrInvalidConfig                = errors.New("invalid configuration")
	ErrUnknown                      = errors.New("unknown")
)
