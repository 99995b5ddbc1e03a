package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Entity ID prefixes per type. Stable: changing one would orphan every
// previously created registry row of that type.
var entityIDPrefixes = map[EntityType]string{
	EntityTypeCompany:    "comp",
	EntityTypeTechnology: "tech",
	EntityTypePerson:     "pers",
	EntityTypeProduct:    "prod",
}

const maxSlugLen = 64

var slugNormalizer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug converts a free-text name into a lowercase ascii-ish slug.
// Diacritics are stripped, runs of non-alphanumerics collapse to a single
// hyphen. The result is deterministic for a given input.
func Slug(name string) string {
	folded, _, err := transform.String(slugNormalizer, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder

	lastHyphen := true // suppress leading hyphen

	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			lastHyphen = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			// Non-latin scripts survive slugging as-is.
			b.WriteRune(r)

			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')

				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}

	return slug
}

// EntityID derives the deterministic registry ID for a primary name.
// The same (type, name) pair always yields the same ID, which is what makes
// entity creation idempotent across runs.
func EntityID(entityType EntityType, primaryName string) string {
	prefix, ok := entityIDPrefixes[entityType]
	if !ok {
		prefix = string(entityType)
	}

	return prefix + "-" + Slug(primaryName)
}

// RelationshipID derives the edge ID from the lexicographically sorted
// entity pair plus the relationship type, making edges undirected by
// construction and idempotently addressable.
func RelationshipID(entityA, entityB, relationshipType string) string {
	a, b := entityA, entityB
	if b < a {
		a, b = b, a
	}

	return a + "__" + b + "__" + Slug(relationshipType)
}

// SortedPair returns the two entity IDs in lexicographic order, matching
// the orientation RelationshipID encodes.
func SortedPair(entityA, entityB string) (string, string) {
	if entityB < entityA {
		return entityB, entityA
	}

	return entityA, entityB
}

// DedupHash is the content hash that deduplicates re-ingestion of the same
// raw item. Keyed on URL plus title so the same article harvested twice maps
// to one evidence record.
func DedupHash(url, title string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(strings.ToLower(url)) + "|" + strings.TrimSpace(strings.ToLower(title))))

	return hex.EncodeToString(h[:])
}

// SnapshotID keys one snapshot per entity per day.
func SnapshotID(entityID string, date string) string {
	return entityID + "_" + date
}

// DedupeStrings removes duplicates while preserving first-seen order.
func DedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))

	out := make([]string, 0, len(values))

	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}

		out = append(out, v)
	}

	return out
}

// SortStrings returns a sorted copy, used where deterministic ordering
// across invocations matters (checkpointed sweeps).
func SortStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)

	return out
}
