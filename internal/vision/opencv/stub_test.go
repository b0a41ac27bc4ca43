//go:build !opencv

package opencv

import (
	"errors"
	"testing"

	"github.com/andresmejia3/veritas/internal/frame"
)

func TestStubIsUnavailable(t *testing.T) {
	if Available {
		t.Fatal("stub build must not report availability")
	}
	if _, err := NewCascadeCounter(""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("NewCascadeCounter error = %v", err)
	}
	f := frame.New(2, 2, frame.Gray)
	if _, err := (Farneback{}).MeanMagnitude(f, f); !errors.Is(err, ErrUnavailable) {
		t.Errorf("MeanMagnitude error = %v", err)
	}
}
