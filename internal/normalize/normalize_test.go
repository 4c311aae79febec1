package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "John Smith", want: "john smith"},
		{name: "diacritics stripped", in: "José García", want: "jose garcia"},
		{name: "honorific dropped", in: "Sen. Patrick Leahy", want: "patrick leahy"},
		{name: "suffix dropped", in: "Robert Smith Jr.", want: "robert smith"},
		{name: "honorific and suffix", in: "Hon. Maria Cantwell III", want: "maria cantwell"},
		{name: "hyphen splits", in: "Debbie Wasserman-Schultz", want: "debbie wasserman schultz"},
		{name: "punctuation removed", in: "John F. Kennedy", want: "john f kennedy"},
		{name: "whitespace collapsed", in: "  Jane   Doe  ", want: "jane doe"},
		{name: "suffix only in last position", in: "V Thomas", want: "v thomas"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.in))
		})
	}
}

func TestFlipComma(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Welch, Peter", want: "Peter Welch"},
		{in: "Kennedy, John F.", want: "John F. Kennedy"},
		{in: "Peter Welch", want: "Peter Welch"},
		{in: "  Leahy ,  Patrick ", want: "Patrick Leahy"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FlipComma(tt.in))
		})
	}
}
