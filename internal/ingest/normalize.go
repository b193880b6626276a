package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NormalizedLead is the canonical payload stored on every lead,
// regardless of which ad platform delivered it. Delivery handlers only
// ever see this shape.
type NormalizedLead struct {
	FullName string            `json:"full_name"`
	Email    string            `json:"email"`
	Phone    string            `json:"phone"`
	Campaign string            `json:"campaign"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// RejectionError describes a webhook payload that cannot be turned
// into a lead. It maps to a 422 at the HTTP layer.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "rejected: " + e.Reason }

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether an error is a payload rejection rather
// than an internal failure.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// Normalizer converts one platform's webhook body into the canonical
// lead shape. Implementations are pure: no I/O, no clock.
type Normalizer interface {
	Normalize(body []byte) (*NormalizedLead, error)
}

// ForSource returns the normalizer for a webhook source name.
func ForSource(source string) (Normalizer, bool) {
	switch source {
	case "meta":
		return metaNormalizer{}, true
	case "google":
		return googleNormalizer{}, true
	case "tiktok":
		return tiktokNormalizer{}, true
	}
	return nil, false
}

// Fingerprint computes the dedupe key for a normalized lead. Two
// submissions of the same person for the same campaign collide even
// when the platform formats the contact fields differently.
func Fingerprint(source string, lead *NormalizedLead) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(lead.Email))))
	h.Write([]byte{0})
	h.Write([]byte(digitsOnly(lead.Phone)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(lead.Campaign))))
	return hex.EncodeToString(h.Sum(nil))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (l *NormalizedLead) validate() error {
	if strings.TrimSpace(l.Email) == "" && digitsOnly(l.Phone) == "" {
		return reject("lead has neither email nor phone")
	}
	if l.Email != "" && !strings.Contains(l.Email, "@") {
		return reject("malformed email %q", l.Email)
	}
	return nil
}

// --- Meta (Facebook/Instagram lead ads) ---
//
// Meta posts field_data as a list of {name, values} pairs.

type metaNormalizer struct{}

type metaPayload struct {
	CampaignName string `json:"campaign_name"`
	FieldData    []struct {
		Name   string   `json:"name"`
		Values []string `json:"values"`
	} `json:"field_data"`
}

func (metaNormalizer) Normalize(body []byte) (*NormalizedLead, error) {
	var p metaPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, reject("invalid JSON: %v", err)
	}

	lead := &NormalizedLead{Campaign: p.CampaignName, Extra: map[string]string{}}
	for _, f := range p.FieldData {
		if len(f.Values) == 0 {
			continue
		}
		v := strings.TrimSpace(f.Values[0])
		switch strings.ToLower(f.Name) {
		case "full_name", "name":
			lead.FullName = v
		case "email":
			lead.Email = v
		case "phone_number", "phone":
			lead.Phone = v
		default:
			lead.Extra[f.Name] = v
		}
	}
	if len(lead.Extra) == 0 {
		lead.Extra = nil
	}
	if err := lead.validate(); err != nil {
		return nil, err
	}
	return lead, nil
}

// --- Google (lead form extensions) ---
//
// Google posts user_column_data keyed by column_id.

type googleNormalizer struct{}

type googlePayload struct {
	CampaignID     json.Number `json:"campaign_id"`
	UserColumnData []struct {
		ColumnID    string `json:"column_id"`
		StringValue string `json:"string_value"`
	} `json:"user_column_data"`
}

func (googleNormalizer) Normalize(body []byte) (*NormalizedLead, error) {
	var p googlePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, reject("invalid JSON: %v", err)
	}

	lead := &NormalizedLead{Campaign: p.CampaignID.String(), Extra: map[string]string{}}
	for _, c := range p.UserColumnData {
		v := strings.TrimSpace(c.StringValue)
		switch strings.ToUpper(c.ColumnID) {
		case "FULL_NAME":
			lead.FullName = v
		case "EMAIL":
			lead.Email = v
		case "PHONE_NUMBER":
			lead.Phone = v
		default:
			lead.Extra[c.ColumnID] = v
		}
	}
	if len(lead.Extra) == 0 {
		lead.Extra = nil
	}
	if err := lead.validate(); err != nil {
		return nil, err
	}
	return lead, nil
}

// --- TikTok (instant form) ---
//
// TikTok posts a flat object with snake_case contact fields.

type tiktokNormalizer struct{}

type tiktokPayload struct {
	CampaignName string            `json:"campaign_name"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	PhoneNumber  string            `json:"phone_number"`
	Properties   map[string]string `json:"properties"`
}

func (tiktokNormalizer) Normalize(body []byte) (*NormalizedLead, error) {
	var p tiktokPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, reject("invalid JSON: %v", err)
	}

	lead := &NormalizedLead{
		FullName: strings.TrimSpace(p.Name),
		Email:    strings.TrimSpace(p.Email),
		Phone:    strings.TrimSpace(p.PhoneNumber),
		Campaign: p.CampaignName,
	}
	if len(p.Properties) > 0 {
		lead.Extra = p.Properties
	}
	if err := lead.validate(); err != nil {
		return nil, err
	}
	return lead, nil
}
