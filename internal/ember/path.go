package ember

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is the numeric address of a Glow element, e.g. 1.10.2.
type Path []uint32

// ParsePath parses a dotted numeric path. The empty string is the root.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", s, err)
		}
		p = append(p, uint32(n))
	}
	return p, nil
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, ".")
}

// Child returns a new path with n appended.
func (p Path) Child(n uint32) Path {
	c := make(Path, len(p)+1)
	copy(c, p)
	c[len(p)] = n
	return c
}

func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// IsChildOf reports whether p is a direct child of parent.
func (p Path) IsChildOf(parent Path) bool {
	return len(p) == len(parent)+1 && p[:len(parent)].Equal(parent)
}

// Last returns the element number, or 0 for the root.
func (p Path) Last() uint32 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1]
}
