package wire

import "strings"

// maxCompressionOffset is the largest offset a 14-bit compression pointer
// can address (RFC 1035 §4.1.4).
const maxCompressionOffset = 0x3FFF

// AppendName writes name (a dot-separated fqdn, root = "") onto *buf,
// compressing against the longest suffix already recorded in offsets, and
// registers every suffix of name written literally so later callers can
// compress against it. It is shared verbatim between the message Builder
// (C1) and the storage Entry codec (C2), which spec.md §4.2 requires to use
// "the same in-message compression scheme as the wire codec".
func AppendName(buf *[]byte, name string, offsets map[string]int) error {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if name == "" {
		*buf = append(*buf, 0)
		return nil
	}

	labels, err := splitLabels(name)
	if err != nil {
		return err
	}

	for i := 0; i < len(labels); i++ {
		suffix := suffixOf(labels, i)
		if off, ok := offsets[suffix]; ok {
			for j := 0; j < i; j++ {
				registerOffset(offsets, suffixOf(labels, j), len(*buf))
				*buf = append(*buf, byte(len(labels[j])))
				*buf = append(*buf, labels[j]...)
			}
			*buf = append(*buf, byte(0xC0|(off>>8)), byte(off))
			return nil
		}
	}

	for i, l := range labels {
		registerOffset(offsets, suffixOf(labels, i), len(*buf))
		*buf = append(*buf, byte(len(l)))
		*buf = append(*buf, l...)
	}
	*buf = append(*buf, 0)
	return nil
}

// AppendNameStandalone encodes name with no compression table to share
// against, for callers building a single self-contained rdata value (an
// MX exchange, an SRV target) independent of the entry's body offsets.
func AppendNameStandalone(name string) ([]byte, error) {
	var buf []byte
	if err := AppendName(&buf, name, map[string]int{}); err != nil {
		return nil, err
	}
	return buf, nil
}

func suffixOf(labels [][]byte, from int) string {
	parts := make([]string, 0, len(labels)-from)
	for _, l := range labels[from:] {
		parts = append(parts, string(l))
	}
	return strings.Join(parts, ".")
}

func registerOffset(offsets map[string]int, suffix string, pos int) {
	if pos > maxCompressionOffset {
		return
	}
	if _, exists := offsets[suffix]; !exists {
		offsets[suffix] = pos
	}
}
