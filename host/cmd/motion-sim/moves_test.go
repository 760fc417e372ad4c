package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepcore/standalone"
)

func TestParseMoves(t *testing.T) {
	in := `# square
10 10 0.2 0
20 10 0.2 1.5 40   # with feedrate

  20 20 0.2 3
`
	moves, err := ParseMoves(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Move{
		{Target: standalone.Position{X: 10, Y: 10, Z: 0.2}},
		{Target: standalone.Position{X: 20, Y: 10, Z: 0.2, E: 1.5}, Feedrate: 40},
		{Target: standalone.Position{X: 20, Y: 20, Z: 0.2, E: 3}},
	}, moves)
}

func TestParseMovesErrors(t *testing.T) {
	_, err := ParseMoves(strings.NewReader("1 2 3\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = ParseMoves(strings.NewReader("\n1 2 x 4\n"))
	assert.ErrorContains(t, err, "line 2")
}
