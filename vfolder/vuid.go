package vfolder

import (
	"crypto/sha256"
	"encoding/base64"
)

// vuidPrefixLen is the length, in characters, of the hashed prefix of a
// vUID (§3.5: "8 base64-url-safe characters derived from a digest of
// (source_store_uid || source_folder_name)").
const vuidPrefixLen = 8

// MakeVUID builds the vFolder message address of §3.5: an 8-character
// base64url prefix identifying the source (store, folder) pair,
// concatenated with the source UID verbatim. The prefix is one-way — it
// identifies a source folder well enough to tell two folders apart with
// overwhelming probability, but a VeeFolder must keep its own
// vuid -> (folder, uid) index to resolve one back (§4.8: "a thin
// indirection").
func MakeVUID(storeID, folderName, uid string) string {
	sum := sha256.Sum256([]byte(storeID + folderName))
	prefix := base64.RawURLEncoding.EncodeToString(sum[:])[:vuidPrefixLen]
	return prefix + uid
}

// SplitVUID separates a vUID into its hash prefix and verbatim source-uid
// suffix. It does not validate that prefix actually matches any known
// source; callers resolve that through the owning VeeFolder's index.
func SplitVUID(vuid string) (prefix, suffix string) {
	if len(vuid) <= vuidPrefixLen {
		return vuid, ""
	}
	return vuid[:vuidPrefixLen], vuid[vuidPrefixLen:]
}
