package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := map[string]struct{ in, want string }{
		"trim":      {"  Ana Ruiz ", "Ana Ruiz"},
		"collapse":  {"Ana \t\n Ruiz", "Ana Ruiz"},
		"nfc":       {"Jose\u0301", "Jos\u00e9"},
		"empty":     {"   ", ""},
		"untouched": {"3ESO-B", "3ESO-B"},
		"nbsp":      {"A\u00a0B", "A B"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestSameText(t *testing.T) {
	assert.True(t, SameText("María  García", "María García"))
	assert.False(t, SameText("María", "Maria"))
}
