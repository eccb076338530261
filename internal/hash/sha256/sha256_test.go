package sha256

import (
	"io"
	"strings"
	"testing"
)

func TestDigestMatchesSum(t *testing.T) {
	t.Parallel()

	payload := "a,b,c\n1,2,3"
	d := New()
	if _, err := io.Copy(d, strings.NewReader(payload)); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got, want := d.Hex(), Sum([]byte(payload)); got != want {
		t.Fatalf("Hex() = %s, want %s", got, want)
	}
	if d.Len() != int64(len(payload)) {
		t.Fatalf("Len() = %d, want %d", d.Len(), len(payload))
	}
}

func TestSumEmpty(t *testing.T) {
	t.Parallel()

	const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != emptySHA {
		t.Fatalf("Sum(nil) = %s", got)
	}
	if got := New().Hex(); got != emptySHA {
		t.Fatalf("New().Hex() = %s", got)
	}
}
