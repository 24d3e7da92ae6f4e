//go:build !ocr

package ocr

import (
	"errors"
	"testing"
)

func TestNewEngineDisabled(t *testing.T) {
	eng, err := NewEngine(DefaultOptions())
	if !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("NewEngine() error = %v, want ErrNotEnabled", err)
	}
	if eng != nil {
		t.Errorf("NewEngine() = %v, want nil engine", eng)
	}
}
