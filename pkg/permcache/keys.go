package permcache

import "strings"

// Key namespaces
const (
	PermissionNamespace  = "perm:"
	RestrictionNamespace = "restr:"
)

const keySeparator = "~"

// Ids are escaped so that neither part of a key contains the separator.
var (
	idEscaper   = strings.NewReplacer("%", "%25", keySeparator, "%7E")
	idUnescaper = strings.NewReplacer("%7E", keySeparator, "%25", "%")
)

// BaseKey identifies a user within an account
func BaseKey(accountID, userID string) string {
	return idEscaper.Replace(accountID) + keySeparator + idEscaper.Replace(userID)
}

// PermissionKey is the key of a permission snapshot
func PermissionKey(accountID, userID string) string {
	return PermissionNamespace + BaseKey(accountID, userID)
}

// RestrictionKey is the key of a restriction snapshot
func RestrictionKey(accountID, userID string) string {
	return RestrictionNamespace + BaseKey(accountID, userID)
}

// accountPrefix is the prefix shared by every key of an account in a
// namespace. It ends with the separator, so no other account shares it.
func accountPrefix(namespace, accountID string) string {
	return namespace + idEscaper.Replace(accountID) + keySeparator
}

// userIDFromKey returns the user id of a namespaced key
func userIDFromKey(key string) (string, bool) {
	i := strings.Index(key, keySeparator)
	if i < 0 || i == len(key)-1 {
		return "", false
	}
	return idUnescaper.Replace(key[i+1:]), true
}
