// Package checksum fingerprints audit entries so post-hoc tampering can be
// detected.
//
// A fingerprint is SHA-256 over a canonical JSON document built from a fixed
// subset of entry fields: id, occurred_at, actor type, actor id, action,
// entity type, entity id and changes. Reason, request context and metadata are
// left out so annotating an entry never changes its fingerprint. Object keys
// are sorted at every depth and numbers are normalized, so the same logical
// content always produces the same bytes.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// TimeLayout is the fixed precision form used for occurred_at. Timestamps are
// converted to UTC and truncated to microseconds, matching what both storage
// dialects persist.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Fields is the fingerprinted subset of an audit entry.
type Fields struct {
	ID         string
	OccurredAt time.Time
	ActorType  string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Changes    []types.Change
}

// FieldsOf extracts the fingerprinted subset from an entry.
func FieldsOf(entry types.AuditEntry) Fields {
	return Fields{
		ID:         entry.ID.String(),
		OccurredAt: entry.OccurredAt,
		ActorType:  string(entry.Actor.Kind),
		ActorID:    entry.Actor.ID,
		Action:     string(entry.Action),
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		Changes:    entry.Changes,
	}
}

// NormalizeTime returns the instant exactly as it is fingerprinted.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Canonical returns the canonical byte form of the fields.
func Canonical(fields Fields) ([]byte, error) {
	changes := make([]any, 0, len(fields.Changes))
	for _, change := range fields.Changes {
		changes = append(changes, map[string]any{
			"field": change.Field,
			"old":   change.Old,
			"new":   change.New,
		})
	}
	doc := map[string]any{
		"id":          fields.ID,
		"occurred_at": NormalizeTime(fields.OccurredAt).Format(TimeLayout),
		"actor_type":  fields.ActorType,
		"actor_id":    fields.ActorID,
		"action":      fields.Action,
		"entity_type": fields.EntityType,
		"entity_id":   fields.EntityID,
		"changes":     changes,
	}
	normalized, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Fingerprint returns the lowercase hex SHA-256 digest of the canonical form.
func Fingerprint(fields Fields) (string, error) {
	payload, err := Canonical(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Compute fingerprints an audit entry.
func Compute(entry types.AuditEntry) (string, error) {
	return Fingerprint(FieldsOf(entry))
}

// Verify recomputes the fingerprint from the entry's current values and
// compares it with the stored checksum in constant time. Entries without a
// stored checksum are valid.
func Verify(entry types.AuditEntry) (bool, error) {
	if entry.Checksum == "" {
		return true, nil
	}
	expected, err := Compute(entry)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(entry.Checksum)) == 1, nil
}

// normalize round trips the value through encoding/json so structs, typed
// maps and typed slices collapse into map[string]any, []any and json.Number.
func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("checksum: encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("checksum: decode: %w", err)
	}
	return out, nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(canonicalNumber(v))
	case string:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("checksum: unsupported value %T", value)
	}
	return nil
}

// canonicalNumber renders numbers by exact value. Integral values print as
// plain integers, so 5, 5.0 and 5e0 agree and integers beyond float64
// precision stay distinct. Fractions that a float64 holds exactly use the
// shortest float form; any other fraction prints its full decimal expansion.
func canonicalNumber(n json.Number) string {
	r, ok := new(big.Rat).SetString(n.String())
	if !ok {
		return n.String()
	}
	if r.IsInt() {
		return r.Num().String()
	}
	if f, exact := r.Float64(); exact {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.TrimRight(r.FloatString(decimalPlaces(r.Denom())), "0")
}

// decimalPlaces returns how many fractional digits a terminating decimal with
// the given reduced denominator needs.
func decimalPlaces(denom *big.Int) int {
	d := new(big.Int).Set(denom)
	two, five := big.NewInt(2), big.NewInt(5)
	var twos, fives int
	mod := new(big.Int)
	for d.Cmp(big.NewInt(1)) > 0 {
		switch {
		case mod.Mod(d, two).Sign() == 0:
			d.Quo(d, two)
			twos++
		case mod.Mod(d, five).Sign() == 0:
			d.Quo(d, five)
			fives++
		default:
			return 64
		}
	}
	if twos > fives {
		return twos
	}
	return fives
}
