// Package source encodes a workspace's code origin into the single annotation
// string the management backend stores on each instance.
package source

import "strings"

// Type is the variant of a workspace source.
type Type string

const (
	TypeGit   Type = "git"
	TypeImage Type = "image"
	TypeLocal Type = "local"
)

const (
	GitPrefix   = "git:"
	ImagePrefix = "image:"
	LocalPrefix = "local:"
)

// Source describes where a workspace's code comes from.
type Source struct {
	Type  Type   `json:"type"`
	Value string `json:"value"`
}

// Parse decodes an annotation value. Input without a known prefix maps to a
// git source with an empty value.
func Parse(raw string) Source {
	switch {
	case strings.HasPrefix(raw, GitPrefix):
		return Source{Type: TypeGit, Value: strings.TrimPrefix(raw, GitPrefix)}
	case strings.HasPrefix(raw, ImagePrefix):
		return Source{Type: TypeImage, Value: strings.TrimPrefix(raw, ImagePrefix)}
	case strings.HasPrefix(raw, LocalPrefix):
		return Source{Type: TypeLocal, Value: strings.TrimPrefix(raw, LocalPrefix)}
	default:
		return Source{Type: TypeGit}
	}
}

// String encodes the source back into its annotation form.
func (s Source) String() string {
	return s.Type.prefix() + strings.TrimSpace(s.Value)
}

// IsZero reports whether the source carries no value.
func (s Source) IsZero() bool {
	return strings.TrimSpace(s.Value) == ""
}

func (t Type) prefix() string {
	switch t {
	case TypeImage:
		return ImagePrefix
	case TypeLocal:
		return LocalPrefix
	default:
		return GitPrefix
	}
}
