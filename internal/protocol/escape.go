package protocol

// escapeJSONBytes returns the escaped content of b (without surrounding
// quotes): the seven standard backslash escapes, every
// other control character (< 0x20) becomes a literal "?", and every
// other byte — including non-ASCII — passes through unchanged. Inputs
// need not be valid UTF-8: captured process output is arbitrary bytes,
// not text, and this rule is what lets it ride inside a JSON string
// without a binary-safe encoding layer.
func escapeJSONBytes(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		case '\b':
			out = append(out, '\\', 'b')
		case '\f':
			out = append(out, '\\', 'f')
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		default:
			if c < 0x20 {
				out = append(out, '?')
			} else {
				out = append(out, c)
			}
		}
	}
	return out
}

// quoted wraps s in double quotes after escaping it.
func quoted(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	out = append(out, escapeJSONBytes([]byte(s))...)
	out = append(out, '"')
	return out
}

// quotedBytes wraps arbitrary binary data in double quotes after
// escaping it (used for OUTPUT, which carries raw captured bytes).
func quotedBytes(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	out = append(out, '"')
	out = append(out, escapeJSONBytes(b)...)
	out = append(out, '"')
	return out
}
