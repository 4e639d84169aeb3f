package wire

import (
	"strings"

	"github.com/nsblast/nsblast/internal/xlog"
)

const maxPointerDepth = 16
const maxNameLength = 255
const maxLabelLength = 63

// DecodeName exposes decodeName for callers outside this package (the
// storage Entry reader, C2) that need to walk name-compressed bytes sharing
// this codec's compression scheme.
func DecodeName(buf []byte, offset int) (string, int, error) { return decodeName(buf, offset) }

// decodeName parses a (possibly compressed) label sequence starting at
// offset in buf, returning the joined, dot-separated, lowercase fqdn (with
// no trailing dot for the root — the root name decodes to "") and the
// offset immediately following the uncompressed encoding of the name,
// i.e. the offset the caller should resume parsing the rest of the RR
// from (RFC 1035 §4.1.4: a compression pointer always terminates the name
// in the surrounding message, even though it appears only once).
func decodeName(buf []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	endPos := -1 // offset to resume from once we stop following pointers
	visited := map[int]bool{}
	totalLen := 0

	for {
		if pos >= len(buf) {
			return "", 0, newError("label offset past end of buffer").WithKind(xlog.KindMalformed)
		}
		b := buf[pos]
		switch b & 0xC0 {
		case 0x00: // normal label
			n := int(b & 0x3F)
			if n == 0 {
				pos++
				if endPos == -1 {
					endPos = pos
				}
				fqdn := strings.ToLower(strings.Join(labels, "."))
				return fqdn, endPos, nil
			}
			if n > maxLabelLength {
				return "", 0, newError("label exceeds 63 bytes").WithKind(xlog.KindMalformed)
			}
			if pos+1+n > len(buf) {
				return "", 0, newError("label runs past end of buffer").WithKind(xlog.KindMalformed)
			}
			totalLen += n + 1
			if totalLen > maxNameLength {
				return "", 0, newError("name exceeds 255 bytes").WithKind(xlog.KindMalformed)
			}
			labels = append(labels, string(buf[pos+1:pos+1+n]))
			pos += 1 + n
		case 0xC0: // pointer
			if pos+2 > len(buf) {
				return "", 0, newError("truncated compression pointer").WithKind(xlog.KindMalformed)
			}
			target := int(be16(buf[pos:pos+2]) & 0x3FFF)
			if endPos == -1 {
				endPos = pos + 2
			}
			if target >= len(buf) {
				return "", 0, newError("compression pointer out of range").WithKind(xlog.KindMalformed)
			}
			if visited[target] {
				return "", 0, newError("compression pointer loop").WithKind(xlog.KindMalformed)
			}
			visited[target] = true
			if len(visited) > maxPointerDepth {
				return "", 0, newError("compression pointer chain too deep").WithKind(xlog.KindMalformed)
			}
			pos = target
		default:
			return "", 0, newError("deprecated extended label type").WithKind(xlog.KindMalformed)
		}
	}
}

// splitLabels splits a lowercase, dot-separated fqdn into its raw label
// byte segments in wire order (leftmost segment first), validating length
// constraints. The root name ("") yields zero labels.
func splitLabels(fqdn string) ([][]byte, error) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	if fqdn == "" {
		return nil, nil
	}
	parts := strings.Split(fqdn, ".")
	labels := make([][]byte, 0, len(parts))
	total := 0
	for _, p := range parts {
		if len(p) == 0 || len(p) > maxLabelLength {
			return nil, newError("invalid label length in ", fqdn).WithKind(xlog.KindMalformed)
		}
		total += len(p) + 1
		labels = append(labels, []byte(p))
	}
	total++ // terminating zero
	if total > maxNameLength {
		return nil, newError("fqdn exceeds 255 bytes: ", fqdn).WithKind(xlog.KindMalformed)
	}
	return labels, nil
}
