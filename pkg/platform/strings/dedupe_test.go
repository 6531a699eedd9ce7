package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil stays nil", nil, nil},
		{"blanks dropped", []string{" ", "", "\t"}, []string{}},
		{"first occurrence wins", []string{" sound", "projector", "sound "}, []string{"sound", "projector"}},
		{"case is kept", []string{"Sound", "sound"}, []string{"Sound", "sound"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.in))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Equal(t, []string{"projector", "sound"}, DedupeAndTrimLower([]string{"Projector", " SOUND", "projector", ""}))
	assert.Empty(t, DedupeAndTrimLower([]string{}))
}
