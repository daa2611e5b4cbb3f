package buffer

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestReadString(t *testing.T) {
	bp := NewBufferPool(16)

	tests := []struct {
		name         string
		input        string
		limit        int64
		want         string
		wantExceeded bool
	}{
		{name: "short", input: "#EXTM3U\n", limit: 64, want: "#EXTM3U\n"},
		{name: "exactly at limit", input: "abcd", limit: 4, want: "abcd"},
		{name: "over limit", input: "abcde", limit: 4, wantExceeded: true},
		{name: "empty", input: "", limit: 4, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, exceeded, err := bp.ReadString(strings.NewReader(tt.input), tt.limit)
			if err != nil {
				t.Fatalf("ReadString: %v", err)
			}
			if got != tt.want || exceeded != tt.wantExceeded {
				t.Errorf("ReadString = (%q, %v), want (%q, %v)", got, exceeded, tt.want, tt.wantExceeded)
			}
		})
	}
}

func TestReadStringReturnsCopy(t *testing.T) {
	bp := NewBufferPool(16)

	first, _, _ := bp.ReadString(strings.NewReader("first"), 64)
	bp.ReadString(strings.NewReader("second"), 64)

	if first != "first" {
		t.Errorf("pooled buffer reuse changed earlier result to %q", first)
	}
}

func TestReadStringError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := NewBufferPool(16).ReadString(iotest.ErrReader(boom), 64)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestGetIsEmpty(t *testing.T) {
	bp := NewBufferPool(32)
	buf := bp.Get()
	buf.WriteString("leftover")
	bp.Put(buf)

	again := bp.Get()
	if again.Len() != 0 {
		t.Errorf("Get returned non-empty buffer %q", again.B)
	}
	if cap(again.B) < 32 {
		t.Errorf("cap = %d, want >= 32", cap(again.B))
	}
}
