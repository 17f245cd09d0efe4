package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	a := NewID("conv_")
	b := NewID("conv_")
	assert.True(t, strings.HasPrefix(a, "conv_"))
	assert.Len(t, a, len("conv_")+36)
	assert.NotEqual(t, a, b)
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("SHIFTPIPE_TEST_BOOL", tt.val)
			assert.Equal(t, tt.want, ParseBoolEnv("SHIFTPIPE_TEST_BOOL", tt.def))
		})
	}
}

func TestParseNumericEnv(t *testing.T) {
	t.Setenv("SHIFTPIPE_TEST_INT", " 14 ")
	assert.Equal(t, 14, ParseIntEnv("SHIFTPIPE_TEST_INT", 12))
	t.Setenv("SHIFTPIPE_TEST_INT", "noon")
	assert.Equal(t, 12, ParseIntEnv("SHIFTPIPE_TEST_INT", 12))

	t.Setenv("SHIFTPIPE_TEST_FLOAT", "2.5")
	assert.Equal(t, 2.5, ParseFloatEnv("SHIFTPIPE_TEST_FLOAT", 1))
	t.Setenv("SHIFTPIPE_TEST_FLOAT", "")
	assert.Equal(t, 1.0, ParseFloatEnv("SHIFTPIPE_TEST_FLOAT", 1))

	t.Setenv("SHIFTPIPE_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, ParseDurationEnv("SHIFTPIPE_TEST_DURATION", time.Minute))
	t.Setenv("SHIFTPIPE_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, ParseDurationEnv("SHIFTPIPE_TEST_DURATION", time.Minute))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"sommer25", "HALLE3"}, SplitList(" sommer25, ,HALLE3,"))
	assert.Nil(t, SplitList(""))
}
