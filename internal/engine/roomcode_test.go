package engine

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var sixDigits = regexp.MustCompile(`^\d{6}$`)

func TestGenerateRoomCodeIsSixDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateRoomCode()
		require.NoError(t, err)
		require.Regexp(t, sixDigits, code)
	}
}
