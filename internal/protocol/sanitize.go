package protocol

import (
	"regexp"
	"strings"
)

// GlobalWorld is the reserved pseudo-world name accepted as a GlobalMessage
// fan-out target ("every peer") but rejected for subscribe/unsubscribe.
const GlobalWorld = "@global"

var worldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ /\\:@]{0,62}$`)

var worldNameReplacer = strings.NewReplacer(
	" ", "_",
	"/", "_fs_",
	"\\", "_bs_",
	":", "_cl_",
	"@", "_at_",
)

// ValidateWorldName checks a raw world name against the allowed pattern.
// @global fails this check, since a name must start with a letter; callers
// that must tell it apart from other invalid names use IsGlobalWorld first.
func ValidateWorldName(name string) error {
	if !worldNamePattern.MatchString(name) {
		return NewError(ErrInvalidWorldName, "invalid world name %q", name)
	}
	return nil
}

// IsGlobalWorld reports whether name is the reserved @global pseudo-world.
func IsGlobalWorld(name string) bool {
	return name == GlobalWorld
}

// SanitizeWorldName validates name and returns its storage/indexing form
// with reserved characters substituted. @global is rejected by this
// function; it is never stored or indexed, only ever used as a
// GlobalMessage target.
func SanitizeWorldName(name string) (string, error) {
	if IsGlobalWorld(name) {
		return "", NewError(ErrInvalidWorldName, "%q is reserved and cannot be used as a stored world name", name)
	}
	if err := ValidateWorldName(name); err != nil {
		return "", err
	}
	return worldNameReplacer.Replace(name), nil
}
