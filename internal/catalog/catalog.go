// Package catalog holds the build-time constant mapping from action name
// to its minimum required capability scopes, and the derived content
// version exposed by scopes.catalog.get.
package catalog

import (
	"encoding/hex"

	"github.com/opal-lang/tenantctl/internal/canonhash"
	"golang.org/x/crypto/blake2b"
)

// entries is the build-time action → minimum scopes constant. Every
// action named in the adapter's request-building table has an entry
// here; the planner unions these into each operation's required_scopes
// before hashing.
var entries = map[string][]string{
	"project.create":                  {"projects.write"},
	"project.delete":                  {"projects.write"},
	"database.list":                   {"databases.read"},
	"database.create":                 {"databases.write"},
	"database.upsert_collection":      {"databases.write"},
	"database.delete_collection":      {"databases.write"},
	"auth.users.list":                 {"users.read"},
	"auth.users.create":               {"users.write"},
	"auth.users.update":               {"users.write"},
	"auth.users.update.email":         {"users.write"},
	"auth.users.update.name":          {"users.write"},
	"auth.users.update.status":        {"users.write"},
	"auth.users.update.password":      {"users.write"},
	"auth.users.update.phone":         {"users.write"},
	"auth.users.update.email_verification": {"users.write"},
	"auth.users.update.phone_verification": {"users.write"},
	"auth.users.update.mfa":           {"users.write"},
	"auth.users.update.labels":        {"users.write"},
	"auth.users.update.prefs":         {"users.write"},
	"function.list":                   {"functions.read"},
	"function.create":                 {"functions.write"},
	"function.update":                 {"functions.write"},
	"function.deployment.trigger":     {"functions.write"},
	"function.execution.trigger":      {"functions.write", "execution.write"},
	"function.execution.status":       {"execution.read"},
}

// ScopesFor returns the minimum required scopes for action, sorted, or
// nil if the action is unknown to the catalog (the caller decides how to
// treat an unknown action; the catalog itself never guesses).
func ScopesFor(action string) []string {
	scopes, ok := entries[action]
	if !ok {
		return nil
	}
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}

// Snapshot returns the full action → required_scopes map, safe for the
// caller to range over and hand out verbatim (scopes.catalog.get).
func Snapshot() map[string][]string {
	out := make(map[string][]string, len(entries))
	for action, scopes := range entries {
		cp := make([]string, len(scopes))
		copy(cp, scopes)
		out[action] = cp
	}
	return out
}

// Version returns a content-derived tag for the catalog: a BLAKE2b-256
// digest (hex) of the canonicalized action→scopes map. It changes
// exactly when an entry is added, removed, or its scopes change.
func Version() string {
	canon := make(map[string]any, len(entries))
	for action, scopes := range entries {
		arr := make([]any, len(scopes))
		for i, s := range scopes {
			arr[i] = s
		}
		canon[action] = arr
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors for a key longer than 64 bytes; we
		// pass no key, so this branch is unreachable.
		panic(err)
	}
	h.Write([]byte(canonhash.Sum(canon)))
	return hex.EncodeToString(h.Sum(nil))
}
