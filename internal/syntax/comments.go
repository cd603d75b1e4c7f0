package syntax

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

type comment struct {
	start, end int
	doc        bool
}

func (t *Tree) blockComments() []comment {
	t.commentsOnce.Do(func() {
		var walk func(n *sitter.Node)
		walk = func(n *sitter.Node) {
			if n.Type() == "block_comment" {
				text := t.Content(n)
				t.comments = append(t.comments, comment{
					start: int(n.StartByte()),
					end:   int(n.EndByte()),
					doc:   strings.HasPrefix(text, "{-|"),
				})
				return
			}
			for i := 0; i < int(n.NamedChildCount()); i++ {
				walk(n.NamedChild(i))
			}
		}
		walk(t.Root())
		sort.Slice(t.comments, func(i, j int) bool { return t.comments[i].start < t.comments[j].start })
	})
	return t.comments
}

// DocBefore returns the documentation comment that ends immediately before
// byte offset off, separated from it by whitespace only.
func (t *Tree) DocBefore(off int) (string, bool) {
	cs := t.blockComments()
	i := sort.Search(len(cs), func(i int) bool { return cs[i].end > off }) - 1
	if i < 0 || !cs[i].doc {
		return "", false
	}
	if strings.TrimSpace(t.text[cs[i].end:off]) != "" {
		return "", false
	}
	return cleanDoc(t.text[cs[i].start:cs[i].end]), true
}

// DocAfter returns the documentation comment that starts right after byte
// offset off. Module documentation follows the module header.
func (t *Tree) DocAfter(off int) (string, bool) {
	cs := t.blockComments()
	i := sort.Search(len(cs), func(i int) bool { return cs[i].start >= off })
	if i >= len(cs) || !cs[i].doc {
		return "", false
	}
	if strings.TrimSpace(t.text[off:cs[i].start]) != "" {
		return "", false
	}
	return cleanDoc(t.text[cs[i].start:cs[i].end]), true
}

func cleanDoc(raw string) string {
	s := strings.TrimPrefix(raw, "{-|")
	s = strings.TrimSuffix(s, "-}")
	return strings.TrimSpace(s)
}
