// Package protocol implements the line-framed, JSON-per-line wire
// format sessiond speaks over its TCP control channel: verb/argument
// parsing, the session status and error JSON shapes, and the custom
// string-escaping rule the wire format requires that encoding/json
// does not provide on its own.
package protocol
