package experian

import (
	"time"

	"bankcri/internal/verification"
)

// Request/response envelopes for the Bank Wizard API. Field names follow the
// vendor's wire contract, hence the mixed casing.

type envelope struct {
	Header  envelopeHeader  `json:"header"`
	Payload envelopePayload `json:"payload"`
}

type envelopeHeader struct {
	RequestType       string `json:"requestType"`
	ClientReferenceID string `json:"clientReferenceId"`
	ExpRequestID      string `json:"expRequestId"`
	MessageTime       string `json:"messageTime"`
}

type envelopePayload struct {
	Source      string      `json:"source"`
	Application application `json:"application"`
	Contacts    []contact   `json:"contacts"`
}

type application struct {
	Applicants []applicant `json:"applicants"`
}

type applicant struct {
	ID            string `json:"id"`
	ApplicantType string `json:"applicantType"`
	ContactID     string `json:"contactId"`
}

type contact struct {
	ID          string      `json:"id"`
	Person      person      `json:"person"`
	BankAccount bankAccount `json:"bankAccount"`
}

type person struct {
	TypeOfPerson  string        `json:"typeOfPerson"`
	PersonDetails personDetails `json:"personDetails"`
	Names         []personName  `json:"names"`
}

type personDetails struct {
	DateOfBirth string `json:"dateOfBirth,omitempty"`
}

type personName struct {
	Type      string `json:"type"`
	FirstName string `json:"firstName"`
	Surname   string `json:"surName"`
}

type bankAccount struct {
	SortCode           string `json:"sortCode"`
	ClearAccountNumber string `json:"clearAccountNumber"`
}

func (c *Client) buildEnvelope(req verification.Request) envelope {
	first, surname := splitName(req.Name)
	return envelope{
		Header: envelopeHeader{
			RequestType:       "BAVConsumer",
			ClientReferenceID: req.CorrelationID,
			ExpRequestID:      req.CorrelationID,
			MessageTime:       c.now().UTC().Format(time.RFC3339),
		},
		Payload: envelopePayload{
			Source: "WEB",
			Application: application{
				Applicants: []applicant{{
					ID:            "APPLICANT_1",
					ApplicantType: "APPLICANT",
					ContactID:     "MainContact_1",
				}},
			},
			Contacts: []contact{{
				ID: "MainContact_1",
				Person: person{
					TypeOfPerson:  "APPLICANT",
					PersonDetails: personDetails{DateOfBirth: req.BirthDate},
					Names: []personName{{
						Type:      "CURRENT",
						FirstName: first,
						Surname:   surname,
					}},
				},
				BankAccount: bankAccount{
					SortCode:           req.SortCode,
					ClearAccountNumber: req.AccountNumber,
				},
			}},
		},
	}
}

// splitName separates the final name part as the surname; everything before
// it travels as the first name.
func splitName(full string) (first, surname string) {
	idx := -1
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == ' ' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return full, ""
	}
	return full[:idx], full[idx+1:]
}

type verifyResponse struct {
	ResponseHeader        responseHeader        `json:"responseHeader"`
	ClientResponsePayload clientResponsePayload `json:"clientResponsePayload"`
}

type responseHeader struct {
	ExpRequestID    string `json:"expRequestId"`
	ResponseCode    string `json:"responseCode"`
	ResponseType    string `json:"responseType"`
	ResponseMessage string `json:"responseMessage"`
}

type clientResponsePayload struct {
	DecisionElements []decisionElement `json:"decisionElements"`
}

type decisionElement struct {
	ApplicantID    string          `json:"applicantId"`
	Scores         []elementScore  `json:"scores"`
	WarningsErrors []warningsError `json:"warningsErrors"`
	Rules          []scoringRule   `json:"rules"`
	MatchedName    string          `json:"matchedName,omitempty"`
}

type elementScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type warningsError struct {
	ResponseType    string `json:"responseType"`
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
}

type scoringRule struct {
	RuleID    string `json:"ruleId"`
	RuleName  string `json:"ruleName"`
	RuleScore int    `json:"ruleScore"`
	RuleText  string `json:"ruleText"`
}

// reduce maps the vendor decision elements into a verification outcome.
//
// A missing decision-elements block is not an error: it yields an
// indeterminate outcome the decision table downstream reduces to NO_MATCH.
// Warnings and errors are metered per response code against the fixed
// taxonomy; an error-severity code marks the outcome itself as an error.
// Triggered scoring rules (non-zero ruleScore) are logged for audit.
func (c *Client) reduce(resp *verifyResponse, correlationID string) *verification.Outcome {
	outcome := &verification.Outcome{
		NameMatches:   verification.MatchIndeterminate,
		AccountExists: verification.MatchIndeterminate,
		ItemNumber:    firstNonEmpty(resp.ResponseHeader.ExpRequestID, correlationID),
	}

	if len(resp.ClientResponsePayload.DecisionElements) == 0 {
		return outcome
	}

	sawError := false
	score := -1
	for _, element := range resp.ClientResponsePayload.DecisionElements {
		for _, we := range element.WarningsErrors {
			severity, known := responseCodeSeverity[we.ResponseCode]
			if !known {
				severity = "unknown"
			}
			c.metrics.IncWarning(vendorName, we.ResponseCode, severity)
			c.logger.Info("vendor response annotation",
				"code", we.ResponseCode, "severity", severity, "message", we.ResponseMessage)
			if severity == "error" {
				sawError = true
			}
		}
		for _, rule := range element.Rules {
			if rule.RuleScore != 0 {
				c.logger.Info("triggered scoring rule",
					"ruleId", rule.RuleID, "ruleName", rule.RuleName, "ruleScore", rule.RuleScore)
			}
		}
		for _, s := range element.Scores {
			if s.Name == personalDetailsScore {
				score = s.Score
			}
		}
		if element.MatchedName != "" {
			outcome.AccountName = element.MatchedName
		}
	}

	if sawError {
		outcome.NameMatches = verification.MatchError
		return outcome
	}
	if score < 0 {
		// Undefined score; stays indeterminate.
		return outcome
	}

	outcome.AccountExists = verification.MatchYes
	if score >= c.cfg.ScoreThreshold {
		outcome.NameMatches = verification.MatchYes
	} else {
		outcome.NameMatches = verification.MatchNo
	}
	return outcome
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
