package protocol

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// DecodeName decodes a fixed-width name field. Valid UTF-8 is used as-is;
// anything else is decoded as GBK. NUL padding is trimmed afterwards.
func DecodeName(field []byte) string {
	var s string
	if utf8.Valid(field) {
		s = string(field)
	} else if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(field); err == nil {
		s = string(decoded)
	} else {
		s = strings.ToValidUTF8(string(field), "")
	}
	return strings.TrimRight(s, "\x00")
}

// EncodeName truncates name to maxRunes characters and packs it as UTF-8 into a
// width-byte field, never splitting a multi-byte character.
func EncodeName(name string, maxRunes, width int) []byte {
	field := make([]byte, width)
	n, runes := 0, 0
	for _, r := range name {
		if runes == maxRunes {
			break
		}
		size := utf8.RuneLen(r)
		if size < 0 || n+size > width {
			break
		}
		utf8.EncodeRune(field[n:], r)
		n += size
		runes++
	}
	return field
}
