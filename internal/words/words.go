// Package words validates player answers against per-category word lists.
//
// Lists are plain text, one entry per line, matched case-insensitively.
// Blank lines and lines starting with '#' are ignored. Built-in lists are
// used unless a directory with city.txt, country.txt and river.txt is given.
package words

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

//go:embed lists/*.txt
var builtin embed.FS

// Category is one of the three answer columns.
type Category int

const (
	City Category = iota
	Country
	River
)

// Categories lists every category in wire order.
var Categories = []Category{City, Country, River}

// String returns the lower-case category name.
func (c Category) String() string {
	switch c {
	case City:
		return "city"
	case Country:
		return "country"
	case River:
		return "river"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// File is the list file name for the category.
func (c Category) File() string {
	return c.String() + ".txt"
}

// Validator decides whether a word is an acceptable answer in a category for
// a round's letter.
type Validator interface {
	Validate(cat Category, word, letter string) bool
}

// Lists is a Validator backed by in-memory word sets. It is immutable after
// construction and safe for concurrent use.
type Lists struct {
	sets map[Category]map[string]struct{}
}

// New builds lists from explicit entries.
func New(cities, countries, rivers []string) *Lists {
	l := &Lists{sets: make(map[Category]map[string]struct{}, len(Categories))}
	for cat, entries := range map[Category][]string{City: cities, Country: countries, River: rivers} {
		set := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			if w := normalize(e); w != "" {
				set[w] = struct{}{}
			}
		}
		l.sets[cat] = set
	}
	return l
}

// Builtin returns the lists shipped with the binary.
func Builtin() *Lists {
	l, err := LoadFS(builtin, "lists")
	if err != nil {
		panic(fmt.Sprintf("words: builtin lists: %v", err))
	}
	return l
}

// Load reads the lists from dir. An empty dir selects the built-in lists.
func Load(dir string) (*Lists, error) {
	if dir == "" {
		return Builtin(), nil
	}
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS reads the category files from dir inside fsys.
func LoadFS(fsys fs.FS, dir string) (*Lists, error) {
	l := &Lists{sets: make(map[Category]map[string]struct{}, len(Categories))}
	for _, cat := range Categories {
		set, err := readList(fsys, dir+"/"+cat.File())
		if err != nil {
			return nil, err
		}
		l.sets[cat] = set
	}
	return l, nil
}

func readList(fsys fs.FS, name string) (map[string]struct{}, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()

	set := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[normalize(line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read word list %s: %w", name, err)
	}
	return set, nil
}

// Validate accepts word if it is listed for cat and starts with letter.
// Empty answers are never accepted.
func (l *Lists) Validate(cat Category, word, letter string) bool {
	w := normalize(word)
	if w == "" || !strings.HasPrefix(w, normalize(letter)) {
		return false
	}
	_, ok := l.sets[cat][w]
	return ok
}

// Len returns the number of entries for cat.
func (l *Lists) Len(cat Category) int {
	return len(l.sets[cat])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
