package password

import (
	"fmt"
	"runtime"

	"github.com/kelseyhightower/envconfig"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `envconfig:"MEMORY_KIB"`
	Iterations  uint32 `envconfig:"ITERATIONS"`
	Parallelism uint8  `envconfig:"PARALLELISM"`
	SaltLength  uint32 `envconfig:"SALT_LEN"`
	KeyLength   uint32 `envconfig:"KEY_LEN"`
}

// Policy controls what hash-password accepts.
type Policy struct {
	MinLength      int  `envconfig:"MIN_LEN"`
	MaxLength      int  `envconfig:"MAX_LEN"`
	RejectVeryWeak bool `envconfig:"REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `envconfig:"ARGON2"`
	Policy Policy         `envconfig:"PASSWORD"`
}

// DefaultConfig returns interactive-login Argon2id costs. Parallelism follows
// the CPU count, clamped to [1..4].
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// FromEnv overlays environment variables onto DefaultConfig.
//
// With prefix "ARC4DE" the surface is ARC4DE_ARGON2_MEMORY_KIB,
// ARC4DE_ARGON2_ITERATIONS, ARC4DE_ARGON2_PARALLELISM, ARC4DE_ARGON2_SALT_LEN,
// ARC4DE_ARGON2_KEY_LEN, ARC4DE_PASSWORD_MIN_LEN, ARC4DE_PASSWORD_MAX_LEN and
// ARC4DE_PASSWORD_REJECT_VERY_WEAK.
func FromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("argon2 memory_kib out of range [8192..1048576]")
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("argon2 iterations out of range [1..20]")
	case p.Parallelism < 1 || p.Parallelism > 64:
		return fmt.Errorf("argon2 parallelism out of range [1..64]")
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("argon2 salt_len out of range [8..64]")
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("argon2 key_len out of range [16..64]")
	}
	if c.Policy.MinLength < 1 || c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}
