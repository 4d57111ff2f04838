package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveIdentity(t *testing.T) {
	t.Run("alternate identifier wins", func(t *testing.T) {
		got := ResolveIdentity("12345@s.whatsapp.net", "alias@lid")
		assert.Equal(t, "alias@lid", got)
	})

	t.Run("falls back to primary", func(t *testing.T) {
		got := ResolveIdentity("12345@s.whatsapp.net", "")
		assert.Equal(t, "12345@s.whatsapp.net", got)
	})
}

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and trims", "  User@Example.Net ", "user@example.net"},
		{"strips device suffix", "12345:17@s.whatsapp.net", "12345@s.whatsapp.net"},
		{"no domain passes through", "operator", "operator"},
		{"device suffix only before domain", "a:1@d", "a@d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeIdentity(tt.in))
		})
	}
}

func TestIsBroadcastIdentity(t *testing.T) {
	assert.True(t, IsBroadcastIdentity("status@broadcast"))
	assert.True(t, IsBroadcastIdentity("12345@newsletter"))
	assert.False(t, IsBroadcastIdentity("12345@s.whatsapp.net"))
	assert.False(t, IsBroadcastIdentity("12345@g.us"))
}
