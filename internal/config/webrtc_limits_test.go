package config

import "testing"

func TestDefaultSCTPReceiveBufferBytes(t *testing.T) {
	tests := []struct {
		maxMessage int
		want       int
	}{
		{0, defaultSCTPReceiveBufferFloor},
		{64 * 1024, defaultSCTPReceiveBufferFloor},
		{1 << 20, 2 << 20},
		{-1, defaultSCTPReceiveBufferFloor},
	}
	for _, tt := range tests {
		if got := defaultSCTPReceiveBufferBytes(tt.maxMessage); got != tt.want {
			t.Fatalf("defaultSCTPReceiveBufferBytes(%d)=%d, want %d", tt.maxMessage, got, tt.want)
		}
	}
}

func TestValidateSCTPReceiveBufferBytes(t *testing.T) {
	if err := validateSCTPReceiveBufferBytes(minSCTPReceiveBufferBytes-1, 0); err == nil {
		t.Fatalf("expected error below pion minimum")
	}
	if err := validateSCTPReceiveBufferBytes(4096, 8192); err == nil {
		t.Fatalf("expected error when buffer is smaller than a message")
	}
	if err := validateSCTPReceiveBufferBytes(1<<20, 64*1024); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
