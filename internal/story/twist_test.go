package story

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTwistReturnsKnownPrompt(t *testing.T) {
	for i := 0; i < 50; i++ {
		require.Contains(t, twists, Twist())
	}
}
