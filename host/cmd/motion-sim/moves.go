package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"stepcore/standalone"
)

// Move is one line of a move list
type Move struct {
	Target   standalone.Position
	Feedrate float64 // mm/s, zero for the configured default
}

// ParseMoves reads a move list. Each non-empty line holds "X Y Z E [F]";
// text after '#' is ignored.
func ParseMoves(r io.Reader) ([]Move, error) {
	var moves []Move
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 && len(fields) != 5 {
			return nil, fmt.Errorf("line %d: want 4 or 5 fields, got %d", lineNo, len(fields))
		}
		var v [5]float64
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			v[i] = x
		}
		moves = append(moves, Move{
			Target:   standalone.Position{X: v[0], Y: v[1], Z: v[2], E: v[3]},
			Feedrate: v[4],
		})
	}
	return moves, sc.Err()
}

// demoMoves is a small square with a diagonal, used when no list is given
func demoMoves() []Move {
	return []Move{
		{standalone.Position{X: 20, Y: 20, Z: 0.2}, 100},
		{standalone.Position{X: 120, Y: 20, Z: 0.2, E: 4}, 60},
		{standalone.Position{X: 120, Y: 120, Z: 0.2, E: 8}, 60},
		{standalone.Position{X: 20, Y: 120, Z: 0.2, E: 12}, 60},
		{standalone.Position{X: 20, Y: 20, Z: 0.2, E: 16}, 60},
		{standalone.Position{X: 120, Y: 120, Z: 0.2, E: 21.6}, 60},
		{standalone.Position{X: 120, Y: 120, Z: 5, E: 21.6}, 10},
	}
}
