package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitUTF8(t *testing.T) {
	euro := []byte("€") // 3 bytes
	tests := []struct {
		name     string
		in       []byte
		complete string
		rest     []byte
	}{
		{"ascii", []byte("abc"), "abc", nil},
		{"whole rune", append([]byte("a"), euro...), "a€", nil},
		{"one byte of three", append([]byte("a"), euro[0]), "a", euro[:1]},
		{"two bytes of three", append([]byte("a"), euro[:2]...), "a", euro[:2]},
		{"lone continuation", []byte{'a', 0x82}, "a\x82", nil},
		{"empty", nil, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, r := splitUTF8(tt.in)
			assert.Equal(t, tt.complete, string(c))
			assert.Equal(t, tt.rest, r)
		})
	}
}

func TestAppendTailKeepsLastKilobyte(t *testing.T) {
	var tail []byte
	for range 10 {
		tail = appendTail(tail, make([]byte, 300))
	}
	tail = appendTail(tail, []byte("end"))
	assert.Len(t, tail, tailBytes)
	assert.Equal(t, "end", string(tail[len(tail)-3:]))
}
