package fleet

import (
	"strconv"
	"strings"
)

//ParseVersion splits a dotted version into its numeric components.
//If any component is not an integer the whole version is treated as 0.0.0.
func ParseVersion(v string) []int {
	parts := strings.Split(strings.TrimSpace(v), ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return []int{0, 0, 0}
		}
		out = append(out, n)
	}
	return out
}

//CompareVersions returns -1, 0 or 1 when a is older, equal or newer than b.
//Components are compared numerically; a shorter version that is a prefix of a longer one is older.
func CompareVersions(a, b string) int {
	va, vb := ParseVersion(a), ParseVersion(b)

	for i := 0; i < len(va) && i < len(vb); i++ {
		switch {
		case va[i] < vb[i]:
			return -1
		case va[i] > vb[i]:
			return 1
		}
	}

	switch {
	case len(va) < len(vb):
		return -1
	case len(va) > len(vb):
		return 1
	}
	return 0
}
