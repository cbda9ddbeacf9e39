// Package persona pulls character hints out of free-text system instructions.
// Extraction is best effort: it never fails and leaves unmatched fields empty.
package persona

import (
	"regexp"
	"strings"
)

type Relationship string

const (
	RelationshipNone      Relationship = ""
	RelationshipFamily    Relationship = "family"
	RelationshipFriend    Relationship = "friend"
	RelationshipRomantic  Relationship = "romantic"
	RelationshipAmbiguous Relationship = "ambiguous"
)

const maxTraits = 8

// Persona holds whatever could be recognised. Zero values mean absent.
type Persona struct {
	Name         string
	Relationship Relationship
	Traits       []string
}

func (p Persona) IsZero() bool {
	return p.Name == "" && p.Relationship == RelationshipNone && len(p.Traits) == 0
}

type Extractor interface {
	Extract(systemInstructions string) Persona
}

var (
	labelLine = regexp.MustCompile(`(?im)^[ \t]*(?:[-*•][ \t]*)?(name|character name|character|relationship type|relationship|relation|role|personality traits|personality|traits)[ \t]*[:=][ \t]*(.+?)[ \t]*$`)
	youAre    = regexp.MustCompile(`\b[Yy]ou are ([A-Z][A-Za-z'-]+)`)
	yourRole  = regexp.MustCompile(`(?i)\byour\s+(?:best\s+|older\s+|younger\s+|little\s+|big\s+|loving\s+|close\s+)?([a-z-]+)`)
	traitSep  = regexp.MustCompile(`\s*(?:,|;|/|\band\b)\s*`)
)

var notNames = map[string]bool{"An": true, "The": true, "Not": true, "Now": true, "Always": true, "Never": true}

var relationshipWords = map[string]Relationship{
	"girlfriend": RelationshipRomantic,
	"boyfriend":  RelationshipRomantic,
	"partner":    RelationshipRomantic,
	"wife":       RelationshipRomantic,
	"husband":    RelationshipRomantic,
	"spouse":     RelationshipRomantic,
	"lover":      RelationshipRomantic,
	"romantic":   RelationshipRomantic,
	"crush":      RelationshipRomantic,
	"fiance":     RelationshipRomantic,
	"fiancee":    RelationshipRomantic,
	"fiancé":     RelationshipRomantic,
	"fiancée":    RelationshipRomantic,
	"sweetheart": RelationshipRomantic,

	"family":      RelationshipFamily,
	"mother":      RelationshipFamily,
	"mom":         RelationshipFamily,
	"mum":         RelationshipFamily,
	"father":      RelationshipFamily,
	"dad":         RelationshipFamily,
	"parent":      RelationshipFamily,
	"sister":      RelationshipFamily,
	"brother":     RelationshipFamily,
	"sibling":     RelationshipFamily,
	"daughter":    RelationshipFamily,
	"son":         RelationshipFamily,
	"grandmother": RelationshipFamily,
	"grandma":     RelationshipFamily,
	"grandfather": RelationshipFamily,
	"grandpa":     RelationshipFamily,
	"aunt":        RelationshipFamily,
	"uncle":       RelationshipFamily,
	"cousin":      RelationshipFamily,

	"friend":    RelationshipFriend,
	"bestie":    RelationshipFriend,
	"buddy":     RelationshipFriend,
	"pal":       RelationshipFriend,
	"companion": RelationshipFriend,
	"roommate":  RelationshipFriend,
	"classmate": RelationshipFriend,
	"colleague": RelationshipFriend,
}

// LabelExtractor scans "label: value" lines such as "Name: Mia" or
// "Relationship: best friend", then falls back to phrases like "You are Mia"
// and "your sister".
type LabelExtractor struct{}

func NewExtractor() LabelExtractor { return LabelExtractor{} }

func (LabelExtractor) Extract(systemInstructions string) Persona {
	var p Persona
	if strings.TrimSpace(systemInstructions) == "" {
		return p
	}

	for _, m := range labelLine.FindAllStringSubmatch(systemInstructions, -1) {
		label, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		if value == "" {
			continue
		}
		switch label {
		case "name", "character name", "character":
			if p.Name == "" {
				p.Name = cleanName(value)
			}
		case "relationship type", "relationship", "relation", "role":
			if p.Relationship == RelationshipNone {
				p.Relationship = NormalizeRelationship(value)
			}
		case "personality traits", "personality", "traits":
			p.Traits = appendTraits(p.Traits, value)
		}
	}

	if p.Name == "" {
		for _, m := range youAre.FindAllStringSubmatch(systemInstructions, -1) {
			if !notNames[m[1]] {
				p.Name = m[1]
				break
			}
		}
	}
	if p.Relationship == RelationshipNone {
		for _, m := range yourRole.FindAllStringSubmatch(systemInstructions, -1) {
			if r, ok := relationshipWords[strings.ToLower(m[1])]; ok {
				p.Relationship = r
				break
			}
		}
	}
	return p
}

// NormalizeRelationship maps free text onto one of the known relationship
// kinds. Text that names none of them is ambiguous.
func NormalizeRelationship(s string) Relationship {
	found := RelationshipNone
	for _, w := range strings.FieldsFunc(strings.ToLower(s), isWordSep) {
		r, ok := relationshipWords[w]
		if !ok {
			continue
		}
		// Strongest wins: romantic, then family, then friend.
		if found == RelationshipNone || rank(r) > rank(found) {
			found = r
		}
	}
	if found == RelationshipNone && strings.TrimSpace(s) != "" {
		return RelationshipAmbiguous
	}
	return found
}

func rank(r Relationship) int {
	switch r {
	case RelationshipRomantic:
		return 3
	case RelationshipFamily:
		return 2
	case RelationshipFriend:
		return 1
	default:
		return 0
	}
}

func isWordSep(r rune) bool {
	return !(r == '-' || r == '\'' || r >= 'a' && r <= 'z' || r > 127)
}

func cleanName(v string) string {
	v = strings.Trim(v, " \t\"'.,;")
	if i := strings.IndexAny(v, ",;("); i > 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}

func appendTraits(traits []string, value string) []string {
	seen := make(map[string]bool, len(traits))
	for _, t := range traits {
		seen[t] = true
	}
	for _, t := range traitSep.Split(strings.ToLower(value), -1) {
		t = strings.Trim(t, " \t.\"'")
		if t == "" || seen[t] {
			continue
		}
		if len(traits) == maxTraits {
			break
		}
		seen[t] = true
		traits = append(traits, t)
	}
	return traits
}
