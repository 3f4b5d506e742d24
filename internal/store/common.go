package store

// Prefix constants for all store types
const (
	prefixAccount byte = iota + 1
)

// PrefixToString converts a prefix byte to a string
func PrefixToString(p byte) string {
	switch p {
	case prefixAccount:
		return "account"
	default:
		return "unknown"
	}
}

// makeKey creates a key from a prefix and an identifier
func makeKey(prefix byte, id []byte) []byte {
	key := make([]byte, 1+len(id))
	key[0] = prefix
	copy(key[1:], id)
	return key
}
