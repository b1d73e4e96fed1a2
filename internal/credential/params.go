package credential

import (
	"fmt"
	"runtime"
)

// Params controls the Argon2id cost of newly created digests.
// MemoryKiB is in KiB as expected by argon2.IDKey.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the production baseline: 64 MiB, 3 passes and up to
// four lanes depending on the host.
func DefaultParams() Params {
	lanes := runtime.NumCPU()
	if lanes < 1 {
		lanes = 1
	}
	if lanes > 4 {
		lanes = 4
	}
	return Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4]
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate reports whether p describes a usable Argon2id configuration.
func (p Params) Validate() error {
	switch {
	case p.Iterations < 1:
		return fmt.Errorf("%w: iterations must be >= 1", ErrInvalidParams)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidParams)
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return fmt.Errorf("%w: memory must be >= 8 KiB per lane", ErrInvalidParams)
	case p.SaltLength < minSaltLength || p.SaltLength > maxSaltLength:
		return fmt.Errorf("%w: salt length out of range [%d..%d]", ErrInvalidParams, minSaltLength, maxSaltLength)
	case p.KeyLength < minKeyLength || p.KeyLength > maxKeyLength:
		return fmt.Errorf("%w: key length out of range [%d..%d]", ErrInvalidParams, minKeyLength, maxKeyLength)
	}
	return nil
}

// weakerThan reports whether any cost dimension of p is below target.
func (p Params) weakerThan(target Params) bool {
	return p.MemoryKiB < target.MemoryKiB ||
		p.Iterations < target.Iterations ||
		p.KeyLength < target.KeyLength ||
		p.SaltLength < target.SaltLength
}

// affordable rejects digests whose cost exceeds twice our own. Older, cheaper
// digests still verify.
func (p Params) affordable(limit Params) bool {
	return p.MemoryKiB <= limit.MemoryKiB*2 &&
		p.Iterations <= limit.Iterations*2 &&
		uint32(p.Parallelism) <= uint32(limit.Parallelism)*2 &&
		p.SaltLength >= minSaltLength && p.SaltLength <= maxSaltLength &&
		p.KeyLength >= minKeyLength && p.KeyLength <= maxKeyLength
}
