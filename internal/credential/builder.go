package credential

import (
	"time"

	"bankcri/internal/platform/config"
	"bankcri/internal/session"
)

// Fixed Verifiable Credential envelope constants.
var (
	ContextEntries = []string{
		"https://www.w3.org/2018/credentials/v1",
		"https://vocab.account.gov.uk/contexts/identity-v1.jsonld",
	}
	TypeEntries = []string{"VerifiableCredential", "IdentityCheckCredential"}
)

// ContraIndicatorFailedDataCheck is attached to failure evidence.
const ContraIndicatorFailedDataCheck = "D15"

// Evidence describes how strongly and validly the bank account check was
// performed. Exactly one of CheckDetails or FailedCheckDetails is set.
type Evidence struct {
	Type               string        `json:"type"`
	Txn                string        `json:"txn"`
	StrengthScore      int           `json:"strengthScore"`
	ValidityScore      int           `json:"validityScore"`
	CheckDetails       []CheckDetail `json:"checkDetails,omitempty"`
	FailedCheckDetails []CheckDetail `json:"failedCheckDetails,omitempty"`
	CI                 []string      `json:"ci,omitempty"`
}

// CheckDetail records the method used for one check.
type CheckDetail struct {
	CheckMethod         string `json:"checkMethod"`
	IdentityCheckPolicy string `json:"identityCheckPolicy"`
}

// Name is the W3C VC name structure: one entry of ordered name parts.
type Name struct {
	NameParts []session.NamePart `json:"nameParts"`
}

// BirthDate is the W3C VC birth date structure.
type BirthDate struct {
	Value string `json:"value"`
}

// BankAccount is the verified account in the credential subject.
type BankAccount struct {
	SortCode      string `json:"sortCode"`
	AccountNumber string `json:"accountNumber"`
}

// Subject is the credentialSubject block.
type Subject struct {
	Name        []Name        `json:"name"`
	BirthDate   []BirthDate   `json:"birthDate,omitempty"`
	BankAccount []BankAccount `json:"bankAccount"`
}

// Credential is the vc claim of the issued JWT. It is constructed fresh per
// issuance and never persisted; only its signed serialization leaves the
// service.
type Credential struct {
	Context  []string   `json:"@context"`
	Type     []string   `json:"type"`
	Subject  Subject    `json:"credentialSubject"`
	Evidence []Evidence `json:"evidence"`
}

// Payload is the signed JWT body wrapping the credential.
type Payload struct {
	Sub string     `json:"sub"`
	Iss string     `json:"iss"`
	NBF int64      `json:"nbf"`
	IAT int64      `json:"iat"`
	JTI string     `json:"jti"`
	VC  Credential `json:"vc"`
}

// BuildParams collects everything the builder needs. Vendor is explicit:
// the birth date is included for Experian-backed credentials only, matching
// what that vendor actually verified.
type BuildParams struct {
	Vendor        config.Vendor
	NameParts     []session.NamePart
	BirthDate     *string
	SortCode      string
	AccountNumber string
	CheckResult   session.CheckResult
	Txn           string
}

// Build assembles the credential envelope, selecting the evidence block from
// the persisted match result: a full match scores validity 2 with check
// details, anything else scores 0 with failed check details and the fixed
// failed-data-check contra-indicator.
func Build(p BuildParams) Credential {
	detail := CheckDetail{CheckMethod: "data", IdentityCheckPolicy: "none"}
	evidence := Evidence{
		Type:          "IdentityCheck",
		Txn:           p.Txn,
		StrengthScore: 3,
	}
	if p.CheckResult == session.CheckResultFullMatch {
		evidence.ValidityScore = 2
		evidence.CheckDetails = []CheckDetail{detail}
	} else {
		evidence.ValidityScore = 0
		evidence.FailedCheckDetails = []CheckDetail{detail}
		evidence.CI = []string{ContraIndicatorFailedDataCheck}
	}

	subject := Subject{
		Name: []Name{{NameParts: p.NameParts}},
		BankAccount: []BankAccount{{
			SortCode:      p.SortCode,
			AccountNumber: p.AccountNumber,
		}},
	}
	if p.Vendor == config.VendorExperian && p.BirthDate != nil && *p.BirthDate != "" {
		subject.BirthDate = []BirthDate{{Value: *p.BirthDate}}
	}

	return Credential{
		Context:  ContextEntries,
		Type:     TypeEntries,
		Subject:  subject,
		Evidence: []Evidence{evidence},
	}
}

// BuildPayload wraps the credential in the JWT body.
func BuildPayload(subject, issuer, jti string, now time.Time, vc Credential) Payload {
	return Payload{
		Sub: subject,
		Iss: issuer,
		NBF: now.Unix(),
		IAT: now.Unix(),
		JTI: jti,
		VC:  vc,
	}
}
