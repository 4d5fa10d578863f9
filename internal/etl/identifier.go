package etl

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultMaxIdentifierLength bounds generated table names.
	DefaultMaxIdentifierLength = 30
	// MaxIdentifierLength is the spreadsheet worksheet-name bound; no configuration may exceed it.
	MaxIdentifierLength = 31

	suffixDigits = 3
)

var invalidIdentifierChars = strings.NewReplacer(
	"/", "_", "\\", "_", "?", "_", "*", "_", ":", "_", "[", "_", "]", "_",
)

// MakeIdentifier returns a name for desired that is at most max characters
// long and absent from used. On collision it replaces trailing characters with
// an increasing numeric suffix and fails with ErrNameSpaceExhausted once every
// suffix of up to three digits is taken. A max of zero selects the default.
func MakeIdentifier(desired string, used []string, max int) (string, error) {
	if max <= 0 {
		max = DefaultMaxIdentifierLength
	}
	if max > MaxIdentifierLength {
		return "", fmt.Errorf("identifier length %d exceeds %d", max, MaxIdentifierLength)
	}
	taken := make(map[string]struct{}, len(used))
	for _, u := range used {
		taken[u] = struct{}{}
	}
	return makeIdentifier(desired, taken, max)
}

func makeIdentifier(desired string, taken map[string]struct{}, max int) (string, error) {
	base := []rune(invalidIdentifierChars.Replace(desired))
	if len(base) > max {
		base = base[:max]
	}
	candidate := string(base)
	if _, ok := taken[candidate]; !ok && candidate != "" {
		return candidate, nil
	}
	for n := 1; ; n++ {
		digits := strconv.Itoa(n)
		if len(digits) > suffixDigits || len(digits) > max {
			return "", &Error{
				Kind:    KindNameSpaceExhausted,
				Path:    desired,
				Message: fmt.Sprintf("no free name within %d characters", max),
			}
		}
		stem := base
		if cut := max - len(digits); len(stem) > cut {
			stem = stem[:cut]
		}
		candidate = string(stem) + digits
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}

// Namer issues identifiers for one export run. The same desired name always
// resolves to the same identifier, so headers and rows agree on table names.
type Namer struct {
	mu     sync.Mutex
	max    int
	taken  map[string]struct{}
	issued map[string]string
	order  []string
}

// NewNamer returns a Namer bounded by max characters (0 selects the default).
func NewNamer(max int) (*Namer, error) {
	if max <= 0 {
		max = DefaultMaxIdentifierLength
	}
	if max > MaxIdentifierLength {
		return nil, fmt.Errorf("identifier length %d exceeds %d", max, MaxIdentifierLength)
	}
	return &Namer{max: max, taken: map[string]struct{}{}, issued: map[string]string{}}, nil
}

// Resolve maps a desired name to its identifier, issuing one on first use.
func (n *Namer) Resolve(desired string) (string, error) {
	return n.resolve(desired, desired)
}

// ResolveLayout issues an identifier for every section, keyed by section name.
func (n *Namer) ResolveLayout(l *Layout) (map[string]string, error) {
	out := make(map[string]string, len(l.Sections))
	for _, s := range l.Sections {
		id, err := n.resolve(s.Name, s.Table)
		if err != nil {
			return nil, err
		}
		out[s.Name] = id
	}
	return out, nil
}

func (n *Namer) resolve(key, desired string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id, ok := n.issued[key]; ok {
		return id, nil
	}
	id, err := makeIdentifier(desired, n.taken, n.max)
	if err != nil {
		return "", err
	}
	n.taken[id] = struct{}{}
	n.issued[key] = id
	n.order = append(n.order, id)
	return id, nil
}

// Issued returns the identifiers handed out so far, in issue order.
func (n *Namer) Issued() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.order...)
}
