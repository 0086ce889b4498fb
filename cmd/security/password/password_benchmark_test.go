package password

import "testing"

func BenchmarkHashChecker_DefaultConfig(b *testing.B) {
	cfg := DefaultConfig()
	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}
	c, err := NewHashChecker(cfg, h)
	if err != nil {
		b.Fatalf("NewHashChecker: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !c.Check("this is a strong password 123!") {
			b.Fatalf("expected match")
		}
	}
}

func BenchmarkPlainChecker(b *testing.B) {
	c, err := NewPlainChecker("changeme")
	if err != nil {
		b.Fatalf("NewPlainChecker: %v", err)
	}
	for i := 0; i < b.N; i++ {
		_ = c.Check("changeme")
	}
}
