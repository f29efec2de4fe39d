package ipset

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Create renders a create directive. The interpreter runs with -exist, so
// creating a set that already exists with the same definition is harmless.
func Create(s Set) string {
	var b strings.Builder
	fmt.Fprintf(&b, "create %s %s family %s", s.Name, s.Type, s.Family)
	if s.MaxElem > 0 {
		fmt.Fprintf(&b, " maxelem %d", s.MaxElem)
	}
	b.WriteByte('\n')
	return b.String()
}

func Add(name, member string) string { return "add " + name + " " + member + "\n" }

func Del(name, member string) string { return "del " + name + " " + member + "\n" }

func Flush(name string) string { return "flush " + name + "\n" }

func Swap(from, to string) string { return "swap " + from + " " + to + "\n" }

func Destroy(name string) string { return "destroy " + name + "\n" }

// TempName returns the scratch set used while replaying name. It is stable
// for a given name and always fits MaxNameLen.
func TempName(name string) string {
	sum := blake3.Sum256([]byte(name))
	return "fwup-tmp-" + hex.EncodeToString(sum[:8])
}

// Replay renders the directives that rebuild s with exactly members. The
// set is filled under a scratch name and swapped in, so the live set is
// never seen half populated.
func Replay(s Set, members []string) []string {
	tmp := s
	tmp.Name = TempName(s.Name)

	out := make([]string, 0, len(members)+5)
	out = append(out, Create(tmp), Flush(tmp.Name))
	for _, m := range members {
		out = append(out, Add(tmp.Name, m))
	}
	out = append(out,
		Create(s),
		Swap(tmp.Name, s.Name),
		Destroy(tmp.Name),
	)
	return out
}
