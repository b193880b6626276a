package ingest

import (
	"strings"
	"testing"
)

func TestForSource(t *testing.T) {
	for _, source := range []string{"meta", "google", "tiktok"} {
		if _, ok := ForSource(source); !ok {
			t.Errorf("ForSource(%q) unknown", source)
		}
	}
	if _, ok := ForSource("linkedin"); ok {
		t.Error("ForSource(linkedin) should be unknown")
	}
}

func TestMetaNormalize(t *testing.T) {
	body := []byte(`{
		"campaign_name": "Summer Promo",
		"field_data": [
			{"name": "full_name", "values": ["Ada Lovelace"]},
			{"name": "email", "values": ["ada@example.com"]},
			{"name": "phone_number", "values": ["+1 (555) 010-2000"]},
			{"name": "company", "values": ["Analytical Engines"]}
		]
	}`)

	n, _ := ForSource("meta")
	lead, err := n.Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if lead.FullName != "Ada Lovelace" {
		t.Errorf("full name = %q", lead.FullName)
	}
	if lead.Email != "ada@example.com" {
		t.Errorf("email = %q", lead.Email)
	}
	if lead.Phone != "+1 (555) 010-2000" {
		t.Errorf("phone = %q", lead.Phone)
	}
	if lead.Campaign != "Summer Promo" {
		t.Errorf("campaign = %q", lead.Campaign)
	}
	if lead.Extra["company"] != "Analytical Engines" {
		t.Errorf("extra = %v", lead.Extra)
	}
}

func TestGoogleNormalize(t *testing.T) {
	body := []byte(`{
		"campaign_id": 8841,
		"user_column_data": [
			{"column_id": "FULL_NAME", "string_value": "Grace Hopper"},
			{"column_id": "EMAIL", "string_value": "grace@example.com"},
			{"column_id": "PHONE_NUMBER", "string_value": "555-0100"}
		]
	}`)

	n, _ := ForSource("google")
	lead, err := n.Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if lead.FullName != "Grace Hopper" || lead.Email != "grace@example.com" {
		t.Errorf("lead = %+v", lead)
	}
	if lead.Campaign != "8841" {
		t.Errorf("campaign = %q", lead.Campaign)
	}
}

func TestTikTokNormalize(t *testing.T) {
	body := []byte(`{
		"campaign_name": "brand-q3",
		"name": "Katherine Johnson",
		"email": "kj@example.com",
		"phone_number": "555 0199",
		"properties": {"interest": "orbital mechanics"}
	}`)

	n, _ := ForSource("tiktok")
	lead, err := n.Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if lead.FullName != "Katherine Johnson" {
		t.Errorf("full name = %q", lead.FullName)
	}
	if lead.Extra["interest"] != "orbital mechanics" {
		t.Errorf("extra = %v", lead.Extra)
	}
}

func TestNormalizeRejections(t *testing.T) {
	cases := []struct {
		name   string
		source string
		body   string
	}{
		{"invalid json", "meta", `{`},
		{"no contact info", "meta", `{"campaign_name":"x","field_data":[{"name":"company","values":["Acme"]}]}`},
		{"bad email", "tiktok", `{"name":"a","email":"not-an-email"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, _ := ForSource(tc.source)
			_, err := n.Normalize([]byte(tc.body))
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !IsRejection(err) {
				t.Fatalf("error %v is not a rejection", err)
			}
		})
	}
}

func TestFingerprintNormalizesContactFields(t *testing.T) {
	a := &NormalizedLead{Email: "Ada@Example.com", Phone: "+1 (555) 010-2000", Campaign: "Summer Promo"}
	b := &NormalizedLead{Email: "ada@example.com ", Phone: "15550102000", Campaign: "summer promo"}

	fa := Fingerprint("meta", a)
	fb := Fingerprint("meta", b)
	if fa != fb {
		t.Errorf("equivalent leads fingerprint differently: %s vs %s", fa, fb)
	}
	if len(fa) != 64 || strings.ToLower(fa) != fa {
		t.Errorf("fingerprint %q is not lowercase hex sha256", fa)
	}
}

func TestFingerprintVariesBySourceAndCampaign(t *testing.T) {
	lead := &NormalizedLead{Email: "ada@example.com", Campaign: "promo"}
	if Fingerprint("meta", lead) == Fingerprint("google", lead) {
		t.Error("fingerprint does not separate sources")
	}
	other := &NormalizedLead{Email: "ada@example.com", Campaign: "other"}
	if Fingerprint("meta", lead) == Fingerprint("meta", other) {
		t.Error("fingerprint does not separate campaigns")
	}
}
