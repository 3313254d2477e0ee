package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDelay(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"500", 500 * time.Millisecond},
		{"0", 0},
		{"500ms", 500 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"1m30s", 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDelay(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseDelayRejectsInvalidValues(t *testing.T) {
	for _, input := range []string{"-500", "-1s", "fast", "500xs"} {
		t.Run(input, func(t *testing.T) {
			_, err := parseDelay(input)
			assert.Error(t, err)
		})
	}
}
