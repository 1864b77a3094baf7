package natsort

import (
	"math/rand"
	"slices"
	"testing"
)

func TestStrings(t *testing.T) {
	tests := []struct {
		input    []string
		expected []string
	}{
		{[]string{"1.jpg", "10.jpg", "2.jpg"}, []string{"1.jpg", "2.jpg", "10.jpg"}},
		{[]string{"page_B.png", "Page_a.png"}, []string{"Page_a.png", "page_B.png"}},
		{[]string{"ch/010.png", "ch/9.png", "ch/100.png"}, []string{"ch/9.png", "ch/010.png", "ch/100.png"}},
		{[]string{"a", "1"}, []string{"1", "a"}},
		{[]string{"x2", "x", "x10"}, []string{"x", "x2", "x10"}},
		{
			[]string{"99999999999999999999999.png", "100000000000000000000000.png"},
			[]string{"99999999999999999999999.png", "100000000000000000000000.png"},
		},
	}

	for _, test := range tests {
		got := slices.Clone(test.input)
		Strings(got)
		if !slices.Equal(got, test.expected) {
			t.Errorf("Expected %v, got %v", test.expected, got)
		}
	}
}

func TestStringsShuffleInvariant(t *testing.T) {
	xs := []string{
		"001.png", "1.png", "01.png", "2.png", "10.png", "a.png", "A.png",
		"b10.png", "b9.png", "cover.jpg", "img 3.png", "img 20.png",
	}
	expected := slices.Clone(xs)
	Strings(expected)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := slices.Clone(xs)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		Strings(shuffled)
		if !slices.Equal(shuffled, expected) {
			t.Fatalf("Expected %v, got %v", expected, shuffled)
		}
	}
}

func TestSortFunc(t *testing.T) {
	type entry struct{ name string }
	entries := []entry{{"10.jpg"}, {"1.jpg"}, {"2.jpg"}}
	SortFunc(entries, func(e entry) string { return e.name })
	if entries[0].name != "1.jpg" || entries[2].name != "10.jpg" {
		t.Errorf("Unexpected order: %v", entries)
	}
}
