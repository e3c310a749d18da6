package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validation bounds for a script request.
const (
	MinEpisodes   = 1
	MaxEpisodes   = 100
	MinCharacters = 4
)

// Common validation errors for ScriptRequest
var (
	ErrEmptyGenre         = errors.New("genre cannot be empty")
	ErrEmptyDuration      = errors.New("duration cannot be empty")
	ErrEpisodesOutOfRange = fmt.Errorf("episode count must be between %d and %d", MinEpisodes, MaxEpisodes)
	ErrTooFewCharacters   = fmt.Errorf("character roster needs at least %d entries", MinCharacters)
	ErrInvalidCharacter   = errors.New("character entry must be \"name,gender,age\"")
)

// ScriptRequest holds the immutable parameters of one generation request.
// It is fixed at task creation and shared read-only with every stage.
type ScriptRequest struct {
	Genre      string   `json:"genre"`
	Duration   string   `json:"duration"`
	Episodes   int      `json:"episodes"`
	Characters []string `json:"characters"`
}

// Character is one parsed roster entry.
type Character struct {
	Name   string `json:"name"`
	Gender string `json:"gender"`
	Age    int    `json:"age"`
}

// Validate checks the structural constraints on a ScriptRequest.
// It returns the first violation encountered.
func (r ScriptRequest) Validate() error {
	if strings.TrimSpace(r.Genre) == "" {
		return ErrEmptyGenre
	}

	if strings.TrimSpace(r.Duration) == "" {
		return ErrEmptyDuration
	}

	if r.Episodes < MinEpisodes || r.Episodes > MaxEpisodes {
		return ErrEpisodesOutOfRange
	}

	if len(r.Characters) < MinCharacters {
		return ErrTooFewCharacters
	}

	for _, entry := range r.Characters {
		if _, err := ParseCharacter(entry); err != nil {
			return err
		}
	}

	return nil
}

// Roster parses every character entry. Call Validate first; Roster
// returns an error for any malformed entry it encounters.
func (r ScriptRequest) Roster() ([]Character, error) {
	roster := make([]Character, 0, len(r.Characters))
	for _, entry := range r.Characters {
		c, err := ParseCharacter(entry)
		if err != nil {
			return nil, err
		}
		roster = append(roster, c)
	}
	return roster, nil
}

// ParseCharacter parses a "name,gender,age" roster entry.
func ParseCharacter(entry string) (Character, error) {
	parts := strings.Split(entry, ",")
	if len(parts) != 3 {
		return Character{}, fmt.Errorf("%w: %q", ErrInvalidCharacter, entry)
	}

	name := strings.TrimSpace(parts[0])
	gender := strings.TrimSpace(parts[1])
	ageStr := strings.TrimSpace(parts[2])

	if name == "" || gender == "" {
		return Character{}, fmt.Errorf("%w: %q", ErrInvalidCharacter, entry)
	}

	age, err := strconv.Atoi(ageStr)
	if err != nil || age < 0 {
		return Character{}, fmt.Errorf("%w: %q", ErrInvalidCharacter, entry)
	}

	return Character{Name: name, Gender: gender, Age: age}, nil
}
