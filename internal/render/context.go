package render

import (
	"fmt"
	"strings"
	"time"
)

// RenderContext is the tagged variant fed to the resolver. Exactly one
// of Snapshot or Flat is expected to be set; when both are present the
// structured snapshot wins.
type RenderContext struct {
	Snapshot *Snapshot
	Flat     map[string]string
}

// Snapshot is the read-only bundle of business entity data and branding
// settings used to fill template placeholders. All fields are optional;
// unresolved paths render as empty strings.
type Snapshot struct {
	Customer  *Customer
	Policy    *Policy
	Quotation *Quotation
	Claim     *Claim
	Branding  *Branding
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type Policy struct {
	PolicyNo  string
	Product   string
	Premium   float64
	StartDate time.Time
	EndDate   time.Time
}

type Quotation struct {
	QuoteNo    string
	Product    string
	Amount     float64
	ValidUntil time.Time
}

type Claim struct {
	ClaimNo string
	Amount  float64
	Status  string
	FiledAt time.Time
}

// Branding carries the app-level settings templates may reference.
type Branding struct {
	CompanyName  string `json:"company_name"`
	SupportEmail string `json:"support_email"`
	SupportPhone string `json:"support_phone"`
	Currency     string `json:"currency"`
}

const dateLayout = "02 Jan 2006"

// Vars flattens the snapshot into the dotted paths templates reference,
// with currency and date formatting applied.
func (s *Snapshot) Vars() map[string]string {
	vars := make(map[string]string)
	if s == nil {
		return vars
	}

	currency := ""
	if s.Branding != nil {
		currency = s.Branding.Currency
		vars["company.name"] = s.Branding.CompanyName
		vars["company.support_email"] = s.Branding.SupportEmail
		vars["company.support_phone"] = s.Branding.SupportPhone
	}

	if s.Customer != nil {
		vars["customer.name"] = s.Customer.Name
		vars["customer.email"] = s.Customer.Email
		vars["customer.phone"] = s.Customer.Phone
	}

	if s.Policy != nil {
		vars["policy.policy_no"] = s.Policy.PolicyNo
		vars["policy.product"] = s.Policy.Product
		vars["policy.premium"] = FormatAmount(s.Policy.Premium, currency)
		vars["policy.start_date"] = formatDate(s.Policy.StartDate)
		vars["policy.end_date"] = formatDate(s.Policy.EndDate)
	}

	if s.Quotation != nil {
		vars["quotation.quote_no"] = s.Quotation.QuoteNo
		vars["quotation.product"] = s.Quotation.Product
		vars["quotation.amount"] = FormatAmount(s.Quotation.Amount, currency)
		vars["quotation.valid_until"] = formatDate(s.Quotation.ValidUntil)
	}

	if s.Claim != nil {
		vars["claim.claim_no"] = s.Claim.ClaimNo
		vars["claim.amount"] = FormatAmount(s.Claim.Amount, currency)
		vars["claim.status"] = s.Claim.Status
		vars["claim.filed_at"] = formatDate(s.Claim.FiledAt)
	}

	return vars
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// FormatAmount renders a monetary value with thousands separators and an
// optional currency prefix, e.g. "KES 1,250,000.00".
func FormatAmount(amount float64, currency string) string {
	formatted := fmt.Sprintf("%.2f", amount)

	parts := strings.SplitN(formatted, ".", 2)
	intPart, fracPart := parts[0], parts[1]

	sign := ""
	if strings.HasPrefix(intPart, "-") {
		sign = "-"
		intPart = intPart[1:]
	}

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := sign + strings.Join(groups, ",") + "." + fracPart
	if currency != "" {
		return currency + " " + out
	}
	return out
}
