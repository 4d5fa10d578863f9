package domain

// NodeKind tells the schema walker how to treat a node of the form tree.
type NodeKind string

const (
	NodeLeaf   NodeKind = "leaf"
	NodeGroup  NodeKind = "group"
	NodeRepeat NodeKind = "repeat"
)

// FieldType is the data type tag of a leaf question.
// Only select_multiple and gps receive special treatment by the exporter;
// every other tag is carried through as a plain scalar.
type FieldType string

const (
	FieldText           FieldType = "text"
	FieldInteger        FieldType = "integer"
	FieldDecimal        FieldType = "decimal"
	FieldDate           FieldType = "date"
	FieldDateTime       FieldType = "datetime"
	FieldSelectOne      FieldType = "select_one"
	FieldSelectMultiple FieldType = "select_multiple"
	FieldGPS            FieldType = "gps"
)

// Choice is one option of a select question.
type Choice struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Node is one element of a form's structural tree.
//
// The root node is a group with an empty Path whose Name is the survey name.
// Every other node's Path is its parent's Path joined with its own Name by "/"
// (children of the root carry their bare Name).
type Node struct {
	Kind     NodeKind  `json:"kind"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Title    string    `json:"title,omitempty"`
	Type     FieldType `json:"type,omitempty"`
	Choices  []Choice  `json:"choices,omitempty"`
	Children []*Node   `json:"children,omitempty"`
}

// IsRoot reports whether n is the top of a form tree.
func (n *Node) IsRoot() bool {
	return n.Path == "" && n.Kind != NodeLeaf
}

// Label returns the display title, falling back to the path.
func (n *Node) Label() string {
	if n.Title != "" {
		return n.Title
	}
	if n.Path != "" {
		return n.Path
	}
	return n.Name
}
