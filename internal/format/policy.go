package format

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type policyKind int

const (
	policyBool policyKind = iota
	policyExtension
	policyExtensions
)

// AttachmentPolicy decides whether an uploaded file may be attached.
// The zero value denies every file.
type AttachmentPolicy struct {
	kind  policyKind
	allow bool
	ext   string
	exts  []string
}

// DenyFiles rejects every file.
func DenyFiles() AttachmentPolicy {
	return AttachmentPolicy{}
}

// AllowAnyFile accepts every file.
func AllowAnyFile() AttachmentPolicy {
	return AttachmentPolicy{allow: true}
}

// AllowExtension accepts only files whose extension equals ext exactly.
func AllowExtension(ext string) AttachmentPolicy {
	return AttachmentPolicy{kind: policyExtension, ext: ext}
}

// AllowExtensions accepts files whose extension is one of exts.
func AllowExtensions(exts ...string) AttachmentPolicy {
	return AttachmentPolicy{kind: policyExtensions, exts: slices.Clone(exts)}
}

// Permits reports whether a file with the given name is accepted.
func (p AttachmentPolicy) Permits(filename string) bool {
	ext := Extension(filename)
	switch p.kind {
	case policyExtension:
		return ext == p.ext
	case policyExtensions:
		return slices.Contains(p.exts, ext)
	default:
		return p.allow
	}
}

// String describes the policy for logs.
func (p AttachmentPolicy) String() string {
	switch p.kind {
	case policyExtension:
		return p.ext
	case policyExtensions:
		return strings.Join(p.exts, ",")
	default:
		return fmt.Sprintf("%t", p.allow)
	}
}

// Extension returns the final dot-delimited segment of filename, or the whole
// name when it contains no dot.
func Extension(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i+1:]
	}
	return filename
}

// UnmarshalYAML accepts a boolean, a single extension, or a list of extensions.
func (p *AttachmentPolicy) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		switch value.ShortTag() {
		case "!!null":
			*p = DenyFiles()
		case "!!bool":
			var allow bool
			if err := value.Decode(&allow); err != nil {
				return fmt.Errorf("failed to decode attachment policy: %w", err)
			}
			*p = AttachmentPolicy{allow: allow}
		default:
			*p = AllowExtension(value.Value)
		}
		return nil
	case yaml.SequenceNode:
		var exts []string
		if err := value.Decode(&exts); err != nil {
			return fmt.Errorf("failed to decode attachment policy: %w", err)
		}
		*p = AllowExtensions(exts...)
		return nil
	default:
		return fmt.Errorf("attachment policy must be a bool, an extension or a list, got line %d", value.Line)
	}
}
