package logging

const esc = 0x1b

// StripANSI removes terminal escape sequences from data: CSI sequences
// (ESC [ ... final), OSC sequences (ESC ] ... BEL or ESC \) and two-byte
// escapes such as ESC ( B. A sequence cut off at the end of data is dropped.
func StripANSI(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != esc {
			out = append(out, data[i])
			i++
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case '[':
			i += 2
			for i < len(data) {
				b := data[i]
				i++
				if b >= 0x40 && b <= 0x7e {
					break
				}
			}
		case ']':
			i += 2
			for i < len(data) {
				if data[i] == 0x07 {
					i++
					break
				}
				if data[i] == esc && i+1 < len(data) && data[i+1] == '\\' {
					i += 2
					break
				}
				i++
			}
		default:
			// ESC, intermediates 0x20-0x2f, then one final byte.
			i++
			for i < len(data) && data[i] >= 0x20 && data[i] <= 0x2f {
				i++
			}
			i++
		}
	}
	return out
}
