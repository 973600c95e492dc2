package protocol

import "bytes"

// SplitLines scans buf for complete newline-terminated lines, returning
// each line (with any trailing \r stripped) and the unconsumed
// remainder of buf. Call repeatedly as more bytes arrive;
// the final return value is always the bytes still awaiting a
// terminator.
func SplitLines(buf []byte) (lines []string, remainder []byte) {
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			return lines, buf
		}
		line := buf[:idx]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
		buf = buf[idx+1:]
	}
}
