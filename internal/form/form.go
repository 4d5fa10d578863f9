// Package form loads form definitions into a domain.Node tree.
//
// The accepted format follows the pyxform JSON shape (and its YAML
// equivalent): a "survey" root with nested "children"; groups and repeats
// carry their own children, select questions carry their choices either
// inline or through a list name resolved against the root "choices" map.
package form

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"surveyflat/internal/domain"

	"gopkg.in/yaml.v3"
)

// label accepts a plain string or a map of translations.
type label string

func (l *label) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*l = label(n.Value)
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := n.Decode(&m); err != nil {
			return err
		}
		*l = label(pickTranslation(m))
		return nil
	default:
		return fmt.Errorf("line %d: label must be a string or a map", n.Line)
	}
}

// pickTranslation prefers "default", then English, then the first language.
func pickTranslation(m map[string]string) string {
	for _, k := range []string{"default", "English", "english", "en"} {
		if v, ok := m[k]; ok {
			return v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return m[keys[0]]
}

type rawChoice struct {
	Name  string `yaml:"name"`
	Label label  `yaml:"label"`
}

type rawNode struct {
	Type     string    `yaml:"type"`
	Name     string    `yaml:"name"`
	IDString string    `yaml:"id_string"`
	Label    label     `yaml:"label"`
	Title    label     `yaml:"title"`
	ListName string    `yaml:"list_name"`
	Choices  yaml.Node `yaml:"choices"`
	Children []rawNode `yaml:"children"`
}

// Load reads a form definition from a .yaml, .yml or .json file. A root
// without a name takes the file's base name.
func Load(path string) (*domain.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}
	root, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if root.Name == "" {
		root.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return root, nil
}

// Parse decodes a form definition. JSON is accepted as YAML.
func Parse(data []byte) (*domain.Node, error) {
	var raw rawNode
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	lists := map[string][]rawChoice{}
	if raw.Choices.Kind == yaml.MappingNode {
		if err := raw.Choices.Decode(&lists); err != nil {
			return nil, fmt.Errorf("parse choice lists: %w", err)
		}
	}

	name := raw.Name
	if name == "" {
		name = raw.IDString
	}
	root := &domain.Node{Kind: domain.NodeGroup, Name: name, Title: string(firstLabel(raw.Title, raw.Label))}
	b := &builder{lists: lists}
	for i := range raw.Children {
		child, err := b.build(&raw.Children[i], "")
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}

type builder struct {
	lists map[string][]rawChoice
}

func (b *builder) build(raw *rawNode, parentPath string) (*domain.Node, error) {
	if raw.Name == "" {
		where := parentPath
		if where == "" {
			where = "root"
		}
		return nil, fmt.Errorf("%s: child of type %q has no name", where, raw.Type)
	}
	n := &domain.Node{Name: raw.Name, Path: raw.Name, Title: string(raw.Label)}
	if parentPath != "" {
		n.Path = parentPath + "/" + raw.Name
	}

	kind, typ, list := classify(raw.Type)
	n.Kind = kind
	if kind != domain.NodeLeaf {
		for i := range raw.Children {
			child, err := b.build(&raw.Children[i], n.Path)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil
	}

	n.Type = typ
	if typ == domain.FieldSelectOne || typ == domain.FieldSelectMultiple {
		choices, err := b.choices(raw, list)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Path, err)
		}
		n.Choices = choices
	}
	return n, nil
}

// choices resolves inline choices, select children, or a named list.
func (b *builder) choices(raw *rawNode, list string) ([]domain.Choice, error) {
	var rc []rawChoice
	switch {
	case raw.Choices.Kind == yaml.SequenceNode:
		if err := raw.Choices.Decode(&rc); err != nil {
			return nil, fmt.Errorf("parse choices: %w", err)
		}
	case len(raw.Children) > 0:
		for _, c := range raw.Children {
			rc = append(rc, rawChoice{Name: c.Name, Label: c.Label})
		}
	default:
		if raw.ListName != "" {
			list = raw.ListName
		}
		var ok bool
		if rc, ok = b.lists[list]; !ok {
			return nil, fmt.Errorf("unknown choice list %q", list)
		}
	}
	out := make([]domain.Choice, len(rc))
	for i, c := range rc {
		out[i] = domain.Choice{Name: c.Name, Label: string(c.Label)}
	}
	return out, nil
}

// classify maps XLSForm / pyxform type strings onto node kinds and field
// types. "select_multiple colors" also yields the list name.
func classify(t string) (domain.NodeKind, domain.FieldType, string) {
	fields := strings.Fields(strings.ToLower(t))
	joined := strings.Join(fields, " ")
	var list string
	if len(fields) == 2 && strings.HasPrefix(fields[0], "select_") {
		joined, list = fields[0], fields[1]
	}
	switch joined {
	case "group", "begin group", "begin_group":
		return domain.NodeGroup, "", ""
	case "repeat", "begin repeat", "begin_repeat":
		return domain.NodeRepeat, "", ""
	case "select all that apply", "select_multiple":
		return domain.NodeLeaf, domain.FieldSelectMultiple, list
	case "select one", "select_one":
		return domain.NodeLeaf, domain.FieldSelectOne, list
	case "geopoint", "gps":
		return domain.NodeLeaf, domain.FieldGPS, ""
	case "":
		return domain.NodeLeaf, domain.FieldText, ""
	default:
		return domain.NodeLeaf, domain.FieldType(joined), ""
	}
}

func firstLabel(ls ...label) label {
	for _, l := range ls {
		if l != "" {
			return l
		}
	}
	return ""
}
