package xml

import "errors"

// ErrMalformed is returned by the parser for lexically broken input: a
// tag whose name or attributes cannot be parsed, an end tag with no
// open element or whose name doesn't match the open one, or more
// unconsumed bytes than the parser's size bound allows. An unterminated
// tag, comment, CDATA section or processing instruction is not an error
// by itself; the parser waits for the rest of it.
var ErrMalformed = errors.New("xml: malformed document")

// ErrUnknownPrefix is returned when an element name uses a namespace
// prefix with no declaration in scope. Attribute names are not
// namespace-resolved.
var ErrUnknownPrefix = errors.New("xml: unbound namespace prefix")
