package util

import (
	"regexp"
	"testing"
)

func TestUnguessableName(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{12}\.jpg$`)
	a, b := UnguessableName(".JPG"), UnguessableName("jpg")
	if !pattern.MatchString(a) || !pattern.MatchString(b) {
		t.Fatalf("unexpected names %q %q", a, b)
	}
	if a == b {
		t.Fatalf("expected distinct names")
	}
	if got := UnguessableName(""); len(got) != 12 {
		t.Fatalf("expected bare token, got %q", got)
	}
}
