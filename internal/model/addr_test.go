package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddr(t *testing.T) {
	assert.Equal(t, "a@b.org", NormalizeAddr("  a@b.org "))
	assert.Equal(t, "a@b.org", NormalizeAddr("mailto: a@b.org"))
	assert.Equal(t, "MAILTO:a@b.org", NormalizeAddr("MAILTO:a@b.org"))
}

func TestAddrEqual(t *testing.T) {
	assert.True(t, AddrEqual("Alice@Example.org", "mailto:alice@example.org"))
	assert.False(t, AddrEqual("alice@example.org", "bob@example.org"))
}

func TestMayBeValidAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"a@b.c", true},
		{"a@bc", false},
		{"ab.c", false},
		{"@.", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, MayBeValidAddr(tt.addr))
		})
	}
}
