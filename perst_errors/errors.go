// Provides common perst error definitions.
package perst_errors

import "errors"

var (
	ErrDuplicateKey        = errors.New("perst: unique index key collision")
	ErrNotFound            = errors.New("perst: key/ref pair not in index")
	ErrClassNotRegistered  = errors.New("perst: class not registered")
	ErrKeyTypeMismatch     = errors.New("perst: key type mismatch")
	ErrBadClass            = errors.New("perst: bad class description")
	ErrRecordNotLive       = errors.New("perst: record is not in the live set")
	ErrClosed              = errors.New("perst: no storage open")

	ErrParameterIndexOutOfRange = errors.New("perst: parameter index out of range")
	ErrParameterTypeMismatch    = errors.New("perst: parameter type mismatch")
	ErrParameterUnbound         = errors.New("perst: unbound query parameter")
	ErrPredicateSyntax          = errors.New("perst: predicate syntax error")
	ErrUnresolvablePath         = errors.New("perst: path does not resolve to a field")
)
