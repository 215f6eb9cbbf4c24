package vm

import "strings"

// Perm is the set of access capabilities granted to a page.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec

	// PermNone rejects every access.
	PermNone Perm = 0
)

// Has reports whether every capability in p2 is present in p.
func (p Perm) Has(p2 Perm) bool {
	return p&p2 == p2
}

func (p Perm) String() string {
	if p == PermNone {
		return "---"
	}

	var b strings.Builder
	for _, f := range []struct {
		bit Perm
		c   string
	}{
		{PermRead, "r"},
		{PermWrite, "w"},
		{PermExec, "x"},
	} {
		if p.Has(f.bit) {
			b.WriteString(f.c)
		} else {
			b.WriteString("-")
		}
	}

	return b.String()
}
