package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_Validate(t *testing.T) {
	tests := []struct {
		name    string
		props   Properties
		wantErr bool
	}{
		{"empty", Properties{}, false},
		{"full", Properties{
			Title:           "Launch",
			Subtitle:        "Today",
			BackgroundColor: "#000000",
			TextColor:       "#FFF",
			ImageURL:        "a1b2-bg.png",
			AudioURL:        "track.mp3",
			LogoURL:         "logo.svg",
		}, false},
		{"bad background", Properties{BackgroundColor: "black"}, true},
		{"bad text color", Properties{TextColor: "#12"}, true},
		{"media path traversal", Properties{ImageURL: "../etc/passwd"}, true},
		{"media absolute path", Properties{VideoURL: "/var/clip.mp4"}, true},
		{"title too long", Properties{Title: strings.Repeat("a", 501)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.props.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProperties)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProperties_WithDefaults(t *testing.T) {
	p := Properties{Title: "x"}.WithDefaults()
	assert.Equal(t, DefaultBackgroundColor, p.BackgroundColor)
	assert.Equal(t, DefaultTextColor, p.TextColor)

	p = Properties{BackgroundColor: "#123456"}.WithDefaults()
	assert.Equal(t, "#123456", p.BackgroundColor)
}

func TestProperties_JSONOmitsEmpty(t *testing.T) {
	s, err := Properties{Title: "T", AudioURL: "a.mp3"}.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"T","audioUrl":"a.mp3"}`, s)
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(8)
	_, _ = tb.Write([]byte("abcd"))
	_, _ = tb.Write([]byte("efgh"))
	assert.Equal(t, "abcdefgh", tb.String())

	_, _ = tb.Write([]byte("ij"))
	assert.Equal(t, "cdefghij", tb.String())

	_, _ = tb.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", tb.String())
}
