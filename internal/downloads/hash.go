package downloads

import (
	"fmt"
	"strconv"
	"strings"
)

// hashPrefix marks download identifiers owned by this source.
const hashPrefix = "tg-"

// MakeHash builds the external identity key for a (chat, message) download.
func MakeHash(chatID int64, messageID int) string {
	return fmt.Sprintf("%s%d-%d", hashPrefix, chatID, messageID)
}

// ParseHash reverses MakeHash. ok is false for identifiers not owned by
// this source.
func ParseHash(hash string) (chatID int64, messageID int, ok bool) {
	rest, found := strings.CutPrefix(hash, hashPrefix)
	if !found {
		return 0, 0, false
	}

	parts := strings.SplitN(rest, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	messageID, err2 := strconv.Atoi(parts[1])
	if err2 != nil {
		return 0, 0, false
	}
	return chatID, messageID, true
}

// IsHash reports whether the identifier is owned by this source.
func IsHash(hash string) bool {
	_, _, ok := ParseHash(hash)
	return ok
}
