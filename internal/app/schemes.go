package app

import (
	"math"
	"slices"
	"time"

	"github.com/Kundhave/Sakhi/internal/domain"
)

// EligibilityInput is everything a scheme rule may look at.
type EligibilityInput struct {
	Member domain.Member
	Group  *domain.Group // nil when the group row is missing
	Loans  []domain.LoanRequest
	// GroupActiveMonths is ceil(days since the group's first transaction / 30); 0 without transactions.
	GroupActiveMonths int
}

// Scheme is one entry of the government scheme catalog.
type Scheme struct {
	Name        domain.SchemeName
	DisplayName string
	Benefit     string
	Eligible    func(EligibilityInput) bool
}

const (
	mudraMinScore         = 70
	svanidhiMinScore      = 60
	nabardMinActiveMonths = 6
)

// Schemes is the ordered scheme catalog. Adding a scheme is adding an entry.
var Schemes = []Scheme{
	{
		Name:        domain.SchemePMJanDhan,
		DisplayName: "PM Jan Dhan Yojana",
		Benefit:     "Free bank account with RuPay debit card and ₹10,000 overdraft facility",
		Eligible:    func(in EligibilityInput) bool { return !in.Member.HasBankAccount },
	},
	{
		Name:        domain.SchemePMJJBY,
		DisplayName: "PM Jeevan Jyoti Bima Yojana",
		Benefit:     "₹2 lakh life insurance at just ₹436/year",
		Eligible:    func(in EligibilityInput) bool { return in.Member.HasBankAccount },
	},
	{
		Name:        domain.SchemePMSBY,
		DisplayName: "PM Suraksha Bima Yojana",
		Benefit:     "₹2 lakh accident insurance at just ₹20/year",
		Eligible:    func(in EligibilityInput) bool { return in.Member.HasBankAccount },
	},
	{
		Name:        domain.SchemePMMudraShishu,
		DisplayName: "PM Mudra Yojana (Shishu)",
		Benefit:     "Loans up to ₹50,000 for small businesses",
		Eligible: func(in EligibilityInput) bool {
			return in.Member.CreditScore >= mudraMinScore &&
				hasLoanFor(in.Loans, domain.PurposeBusiness, domain.PurposeAgriculture)
		},
	},
	{
		Name:        domain.SchemePMSvanidhi,
		DisplayName: "PM SVANidhi",
		Benefit:     "Collateral-free working capital loan up to ₹50,000",
		Eligible: func(in EligibilityInput) bool {
			return in.Member.CreditScore >= svanidhiMinScore && hasLoanFor(in.Loans, domain.PurposeBusiness)
		},
	},
	{
		Name:        domain.SchemeNABARDLinkage,
		DisplayName: "NABARD SHG-Bank Linkage Programme",
		Benefit:     "Group credit linkage with formal banks for larger loans",
		Eligible: func(in EligibilityInput) bool {
			return in.Group != nil && in.GroupActiveMonths >= nabardMinActiveMonths && in.Group.CorpusAmount > 0
		},
	},
}

// SchemeByName looks up a catalog entry.
func SchemeByName(name domain.SchemeName) (Scheme, bool) {
	for _, s := range Schemes {
		if s.Name == name {
			return s, true
		}
	}
	return Scheme{}, false
}

func hasLoanFor(loans []domain.LoanRequest, purposes ...domain.LoanPurpose) bool {
	for _, l := range loans {
		if slices.Contains(purposes, l.Purpose) {
			return true
		}
	}
	return false
}

// activeMonths counts 30-day periods since first, rounding up.
func activeMonths(first, now time.Time) int {
	const period = 30 * 24 * time.Hour
	return int(math.Ceil(float64(now.Sub(first)) / float64(period)))
}
