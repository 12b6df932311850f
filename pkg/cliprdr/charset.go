package cliprdr

import (
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf16leCodec is the UTF-16LE (no BOM) codec used for CF_UNICODETEXT.
var utf16leCodec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeCP1252 transcodes s (UTF-8) to Windows-1252, truncating the output
// to at most maxLen bytes to stay within the buffer bound.
func EncodeCP1252(s string, maxLen int) ([]byte, error) {
	out, _, err := transform.Bytes(charmap.Windows1252.NewEncoder(), []byte(s))
	if err != nil && len(out) == 0 {
		return nil, err
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out, nil
}

// EncodeUTF16LE transcodes s (UTF-8) to NUL-unterminated UTF-16LE, truncating
// to at most maxLen bytes.
func EncodeUTF16LE(s string, maxLen int) ([]byte, error) {
	out, _, err := transform.Bytes(utf16leCodec.NewEncoder(), []byte(s))
	if err != nil && len(out) == 0 {
		return nil, err
	}
	if len(out) > maxLen {
		// Keep encoding 16-bit-aligned to avoid splitting a code unit.
		out = out[:maxLen-maxLen%2]
	}
	return out, nil
}

// DecodeCP1252 transcodes Windows-1252 bytes to a UTF-8 string.
func DecodeCP1252(b []byte) (string, error) {
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), b)
	if err != nil && len(out) == 0 {
		return "", err
	}
	return string(out), nil
}

// DecodeUTF16LE transcodes UTF-16LE bytes to a UTF-8 string.
func DecodeUTF16LE(b []byte) (string, error) {
	out, _, err := transform.Bytes(utf16leCodec.NewDecoder(), b)
	if err != nil && len(out) == 0 {
		return "", err
	}
	return string(out), nil
}
