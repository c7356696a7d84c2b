package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"3.0.0", "2.0.0", 1},
		{"2.0.0", "2.0.0", 0},
		{"bad", "1.0.0", -1},
		{"2.0.0", "3.0.0", -1},
		{"1.10.0", "1.9.0", 1},
		{"1.2", "1.2.0", -1},
		{"1.2.x", "0.0.0", 0},
		{"", "0.0.1", -1},
		{"10.0.0", "9.99.99", 1},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, CompareVersions(c.a, c.b), "compare(%q, %q)", c.a, c.b)
	}
}

func TestMalformedVersionsParseAsZero(t *testing.T) {
	assert.Equal(t, []int{0, 0, 0}, ParseVersion("v1.0.0"))
	assert.Equal(t, []int{0, 0, 0}, ParseVersion("1..0"))
	assert.Equal(t, []int{3, 1, 4}, ParseVersion(" 3.1.4 "))
}
