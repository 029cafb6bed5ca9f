package importer

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/stardialect/pkg/dialect"
)

var (
	// ErrDeclaration is returned for a module whose dialect declaration is
	// missing, repeated or misplaced.
	ErrDeclaration = errors.New("invalid dialect declaration")

	// ErrDialectImport is returned when the declared dialect cannot be imported.
	ErrDialectImport = errors.New("cannot import dialect")

	// ErrNoCapability is returned when the dialect module has no transforms.
	ErrNoCapability = dialect.ErrNoCapability

	// ErrTransform is returned when a dialect transform or the macro
	// expansion fails.
	ErrTransform = errors.New("dialect transform failed")

	// ErrEmptySource is returned when a text transform returns no text.
	ErrEmptySource = errors.New("dialect returned empty source")

	// ErrDeclarationRemoved is returned when a text transform drops the
	// declaration line.
	ErrDeclarationRemoved = errors.New("dialect removed the declaration")

	// ErrParse is returned when the transformed source does not parse.
	ErrParse = errors.New("cannot parse dialect output")

	// ErrCompile is returned when the final tree does not compile.
	ErrCompile = errors.New("cannot compile dialect output")
)

// Error describes a failed dialect import. Kind is one of the sentinel
// errors of this package; Err is the underlying cause, if any.
type Error struct {
	Kind    error
	Module  string
	File    string
	Dialect string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: module %s", e.Kind, e.Module)
	if e.File != "" {
		msg += " (" + e.File + ")"
	}
	if e.Dialect != "" {
		msg += ", dialect " + e.Dialect
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns both the kind and the cause so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
