package model

import (
	"fmt"
	"strings"
)

// PersonaID is an opaque owner identity of the form "<kind>:<id>".
type PersonaID string

// Persona kinds.
const (
	PersonaCharacter = "character"
	PersonaPlayer    = "player"
)

// ParsePersonaID validates s as a persona identifier.
func ParsePersonaID(s string) (PersonaID, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return "", fmt.Errorf("malformed persona %q", s)
	}
	if kind != PersonaCharacter && kind != PersonaPlayer {
		return "", fmt.Errorf("unknown persona kind %q", kind)
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("persona %q has no id", s)
	}
	return PersonaID(kind + ":" + id), nil
}

// CharacterPersona returns the persona for a character id.
func CharacterPersona(id string) PersonaID {
	return PersonaID(PersonaCharacter + ":" + id)
}

func (p PersonaID) String() string { return string(p) }
