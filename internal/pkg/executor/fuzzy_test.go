package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{"identical", "Tuesday Beginner Swim", "Tuesday Beginner Swim", 1.0, 1.0},
		{"case and spacing ignored", "tuesday  beginner swim", "Tuesday Beginner Swim", 1.0, 1.0},
		{"close variant clears threshold", "Tuesday Beginner Swim 4-5pm", "Tue Beginner Swim 4-5pm", 0.65, 1.0},
		{"different program stays below", "Tuesday Beginner Swim", "Friday Advanced Dive", 0.0, 0.65},
		{"empty", "", "Tuesday Beginner Swim", 0.0, 0.0},
		{"single char", "a", "ab", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestBestMatch(t *testing.T) {
	candidates := []string{
		"Monday Intermediate Swim 3-4pm",
		"Tuesday Beginner Swim 4-5pm",
		"Friday Advanced Dive 5-6pm",
	}

	match, score := BestMatch([]string{"Tuesday Beginner Swim"}, candidates)
	assert.Equal(t, "Tuesday Beginner Swim 4-5pm", match)
	assert.Greater(t, score, MatchThreshold)
}

func TestBestMatchUsesAliases(t *testing.T) {
	candidates := []string{"Tue PM Beg Swim", "Friday Advanced Dive 5-6pm"}

	// The primary text misses, an alias carries the match.
	match, score := BestMatch([]string{"Tuesday Beginner Swim 4-5pm", "Tue PM Beg Swim"}, candidates)
	assert.Equal(t, "Tue PM Beg Swim", match)
	assert.Equal(t, 1.0, score)
}

func TestBestMatchNoCandidates(t *testing.T) {
	_, score := BestMatch([]string{"anything"}, nil)
	assert.Equal(t, 0.0, score)
}
