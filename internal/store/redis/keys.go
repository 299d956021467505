package redis

import "fmt"

const (
	// KeyPrefix namespaces every key this program writes.
	KeyPrefix = "mcbot:"
	// KeyPrefixTelegram is the prefix for telegram transport state
	KeyPrefixTelegram = KeyPrefix + "telegram:"
)

// OffsetKey returns the key holding the next update offset for one bot.
// Bots sharing a redis database keep separate offsets.
func OffsetKey(botID string) string {
	return KeyPrefixTelegram + botID + ":offset"
}

// ExtractBotID extracts the bot ID from an offset key
func ExtractBotID(key string) (string, error) {
	const suffix = ":offset"
	if len(key) <= len(KeyPrefixTelegram)+len(suffix) ||
		key[:len(KeyPrefixTelegram)] != KeyPrefixTelegram ||
		key[len(key)-len(suffix):] != suffix {
		return "", fmt.Errorf("invalid offset key: %s", key)
	}
	return key[len(KeyPrefixTelegram) : len(key)-len(suffix)], nil
}
