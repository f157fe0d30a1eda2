// Package identity holds the claim, profile and token shapes exchanged
// between federated providers, the account registry and the login flow.
package identity

import (
	"encoding/json"
	"strings"
)

// Flag is a boolean claim that tolerates providers sending "true"/"false"
// strings (Apple does this for email_verified).
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	*f = Flag(strings.EqualFold(s, "true"))
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

// Address is the OIDC address claim.
type Address struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

// Profile is the set of standard claims kept for an account. Empty fields
// mean "not supplied".
type Profile struct {
	Name                string   `json:"name,omitempty"`
	GivenName           string   `json:"given_name,omitempty"`
	FamilyName          string   `json:"family_name,omitempty"`
	MiddleName          string   `json:"middle_name,omitempty"`
	Nickname            string   `json:"nickname,omitempty"`
	PreferredUsername   string   `json:"preferred_username,omitempty"`
	Profile             string   `json:"profile,omitempty"`
	Picture             string   `json:"picture,omitempty"`
	Website             string   `json:"website,omitempty"`
	Email               string   `json:"email,omitempty"`
	EmailVerified       *Flag    `json:"email_verified,omitempty"`
	Gender              string   `json:"gender,omitempty"`
	Birthdate           string   `json:"birthdate,omitempty"`
	Zoneinfo            string   `json:"zoneinfo,omitempty"`
	Locale              string   `json:"locale,omitempty"`
	PhoneNumber         string   `json:"phone_number,omitempty"`
	PhoneNumberVerified *Flag    `json:"phone_number_verified,omitempty"`
	UpdatedAt           int64    `json:"updated_at,omitempty"`
	Address             *Address `json:"address,omitempty"`
}

// IsEmailVerified reports whether email_verified was supplied and true.
func (p Profile) IsEmailVerified() bool {
	return p.EmailVerified != nil && bool(*p.EmailVerified)
}

// Verified returns a pointer to a true Flag.
func Verified() *Flag {
	f := Flag(true)
	return &f
}

// MergeProfile computes the next stored profile: every field present in
// incoming replaces the previous value, absent fields keep it.
func MergeProfile(prev, incoming Profile) Profile {
	next := prev
	mergeString(&next.Name, incoming.Name)
	mergeString(&next.GivenName, incoming.GivenName)
	mergeString(&next.FamilyName, incoming.FamilyName)
	mergeString(&next.MiddleName, incoming.MiddleName)
	mergeString(&next.Nickname, incoming.Nickname)
	mergeString(&next.PreferredUsername, incoming.PreferredUsername)
	mergeString(&next.Profile, incoming.Profile)
	mergeString(&next.Picture, incoming.Picture)
	mergeString(&next.Website, incoming.Website)
	mergeString(&next.Email, incoming.Email)
	mergeString(&next.Gender, incoming.Gender)
	mergeString(&next.Birthdate, incoming.Birthdate)
	mergeString(&next.Zoneinfo, incoming.Zoneinfo)
	mergeString(&next.Locale, incoming.Locale)
	mergeString(&next.PhoneNumber, incoming.PhoneNumber)
	if incoming.EmailVerified != nil {
		v := *incoming.EmailVerified
		next.EmailVerified = &v
	}
	if incoming.PhoneNumberVerified != nil {
		v := *incoming.PhoneNumberVerified
		next.PhoneNumberVerified = &v
	}
	if incoming.UpdatedAt != 0 {
		next.UpdatedAt = incoming.UpdatedAt
	}
	if incoming.Address != nil {
		merged := Address{}
		if prev.Address != nil {
			merged = *prev.Address
		}
		mergeString(&merged.Formatted, incoming.Address.Formatted)
		mergeString(&merged.StreetAddress, incoming.Address.StreetAddress)
		mergeString(&merged.Locality, incoming.Address.Locality)
		mergeString(&merged.Region, incoming.Address.Region)
		mergeString(&merged.PostalCode, incoming.Address.PostalCode)
		mergeString(&merged.Country, incoming.Address.Country)
		next.Address = &merged
	}
	return next
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Tokens is what a provider issued during a federated login.
type Tokens struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	SessionState string `json:"session_state,omitempty"`
}

// Identity is a verified identity produced by a login method.
type Identity struct {
	Provider string  // "google", "apple", "email"
	Subject  string  // provider subject
	Profile  Profile // verified claims
	Tokens   *Tokens // nil when the method issues none
}
