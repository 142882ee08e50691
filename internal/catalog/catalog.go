/**
 * @description
 * Package catalog renders every member-facing chat message in the member's language.
 * Message texts live in embedded YAML files, one per language, as text/template strings.
 *
 * @notes
 * - English is the reference set and must define every key. Other languages may define a
 *   subset; missing keys are rendered from English.
 * - Languages without a file (TAMIL, TELUGU) are served entirely in English.
 */

package catalog

import (
	"bytes"
	"embed"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"

	"github.com/Kundhave/Sakhi/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFiles embed.FS

// Message keys.
const (
	KeyWelcomeMenu         = "WELCOME_MENU"
	KeyAskContribution     = "ASK_CONTRIBUTION"
	KeyAskRepayment        = "ASK_REPAYMENT"
	KeyAskRepaymentAmount  = "ASK_REPAYMENT_AMOUNT"
	KeyConfirmCheckin      = "CONFIRM_CHECKIN"
	KeySavedSuccess        = "SAVED_SUCCESS"
	KeyAskLoanAmount       = "ASK_LOAN_AMOUNT"
	KeyAskLoanPurpose      = "ASK_LOAN_PURPOSE"
	KeyAskLoanMonths       = "ASK_LOAN_MONTHS"
	KeyAskOutstanding      = "ASK_OUTSTANDING"
	KeyLoanSubmitted       = "LOAN_SUBMITTED"
	KeyScoreDisplay        = "SCORE_DISPLAY"
	KeyLoanDetailsEmpty    = "LOAN_DETAILS_EMPTY"
	KeyLoanDetails         = "LOAN_DETAILS"
	KeyLeaderContact       = "LEADER_CONTACT"
	KeySchemesListEmpty    = "SCHEMES_LIST_EMPTY"
	KeySchemesList         = "SCHEMES_LIST"
	KeyInvalidInput        = "INVALID_INPUT"
	KeyNotRegistered       = "NOT_REGISTERED"
	KeyVerificationRequest = "VERIFICATION_REQUEST"
	KeyVerificationFlagged = "VERIFICATION_FLAGGED"
	KeyLoanApproved        = "LOAN_APPROVED"
	KeyLoanRejected        = "LOAN_REJECTED"
	KeySchemeNotification  = "SCHEME_NOTIFICATION"
	KeyLeaderLoanRequest   = "LEADER_LOAN_REQUEST"
)

var requiredKeys = []string{
	KeyWelcomeMenu, KeyAskContribution, KeyAskRepayment, KeyAskRepaymentAmount, KeyConfirmCheckin,
	KeySavedSuccess, KeyAskLoanAmount, KeyAskLoanPurpose, KeyAskLoanMonths, KeyAskOutstanding,
	KeyLoanSubmitted, KeyScoreDisplay, KeyLoanDetailsEmpty, KeyLoanDetails, KeyLeaderContact,
	KeySchemesListEmpty, KeySchemesList, KeyInvalidInput, KeyNotRegistered, KeyVerificationRequest,
	KeyVerificationFlagged, KeyLoanApproved, KeyLoanRejected, KeySchemeNotification, KeyLeaderLoanRequest,
}

var languageFiles = map[domain.Language]string{
	domain.LanguageEnglish: "templates/english.yaml",
	domain.LanguageHindi:   "templates/hindi.yaml",
}

// Catalog holds the parsed template sets of every supported language.
type Catalog struct {
	english *Templates
	sets    map[domain.Language]*Templates
}

// Templates is the message set of one language.
type Templates struct {
	language  domain.Language
	templates map[string]*template.Template
	fallback  *Templates
}

// Load parses the embedded template files.
func Load() (*Catalog, error) {
	english, err := parseFile(domain.LanguageEnglish, languageFiles[domain.LanguageEnglish], nil)
	if err != nil {
		return nil, err
	}
	for _, key := range requiredKeys {
		if _, ok := english.templates[key]; !ok {
			return nil, fmt.Errorf("catalog: english template %s is missing", key)
		}
	}

	c := &Catalog{english: english, sets: map[domain.Language]*Templates{domain.LanguageEnglish: english}}
	for lang, path := range languageFiles {
		if lang == domain.LanguageEnglish {
			continue
		}
		set, err := parseFile(lang, path, english)
		if err != nil {
			return nil, err
		}
		c.sets[lang] = set
	}
	return c, nil
}

// MustLoad is Load for program start-up; the templates are embedded, so failure is a build defect.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func parseFile(lang domain.Language, path string, fallback *Templates) (*Templates, error) {
	raw, err := templateFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var texts map[string]string
	if err := yaml.Unmarshal(raw, &texts); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	set := &Templates{language: lang, templates: make(map[string]*template.Template, len(texts)), fallback: fallback}
	for key, text := range texts {
		tmpl, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s %s: %w", lang, key, err)
		}
		set.templates[key] = tmpl
	}
	return set, nil
}

// For returns the template set for a language. Unknown languages get English.
func (c *Catalog) For(lang domain.Language) *Templates {
	if set, ok := c.sets[lang]; ok {
		return set
	}
	return c.english
}

// English returns the reference template set.
func (c *Catalog) English() *Templates {
	return c.english
}

// Language reports which language this set was loaded for.
func (t *Templates) Language() domain.Language {
	return t.language
}

func (t *Templates) render(key string, data any) string {
	tmpl, ok := t.templates[key]
	if !ok {
		if t.fallback != nil {
			return t.fallback.render(key, data)
		}
		return key
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		if t.fallback != nil {
			return t.fallback.render(key, data)
		}
		return key
	}
	return buf.String()
}

// FormatAmount renders a rupee amount without trailing zeros: 500, 1250.5.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (t *Templates) WelcomeMenu() string        { return t.render(KeyWelcomeMenu, nil) }
func (t *Templates) AskContribution() string    { return t.render(KeyAskContribution, nil) }
func (t *Templates) AskRepayment() string       { return t.render(KeyAskRepayment, nil) }
func (t *Templates) AskRepaymentAmount() string { return t.render(KeyAskRepaymentAmount, nil) }
func (t *Templates) SavedSuccess() string       { return t.render(KeySavedSuccess, nil) }
func (t *Templates) AskLoanAmount() string      { return t.render(KeyAskLoanAmount, nil) }
func (t *Templates) AskLoanPurpose() string     { return t.render(KeyAskLoanPurpose, nil) }
func (t *Templates) AskLoanMonths() string      { return t.render(KeyAskLoanMonths, nil) }
func (t *Templates) AskOutstanding() string     { return t.render(KeyAskOutstanding, nil) }
func (t *Templates) InvalidInput() string       { return t.render(KeyInvalidInput, nil) }
func (t *Templates) NotRegistered() string      { return t.render(KeyNotRegistered, nil) }
func (t *Templates) VerificationFlagged() string {
	return t.render(KeyVerificationFlagged, nil)
}
func (t *Templates) LoanRejected() string { return t.render(KeyLoanRejected, nil) }

// Reprompt prefixes a prompt with the invalid-input notice.
func (t *Templates) Reprompt(prompt string) string {
	return t.InvalidInput() + "\n\n" + prompt
}

// ConfirmCheckin summarises a check-in. A nil repayment renders as "None".
func (t *Templates) ConfirmCheckin(contribution float64, repayment *float64) string {
	repay := ""
	if repayment != nil {
		repay = FormatAmount(*repayment)
	}
	return t.render(KeyConfirmCheckin, map[string]any{"contribution": FormatAmount(contribution), "repayment": repay})
}

func (t *Templates) LoanSubmitted(amount float64) string {
	return t.render(KeyLoanSubmitted, map[string]any{"amount": FormatAmount(amount)})
}

func (t *Templates) LoanApproved(amount float64) string {
	return t.render(KeyLoanApproved, map[string]any{"amount": FormatAmount(amount)})
}

// ScoreDisplay shows the rounded score, the band with underscores as spaces, savings and the
// outstanding loan.
func (t *Templates) ScoreDisplay(score float64, band domain.ScoreBand, savings, outstanding float64) string {
	return t.render(KeyScoreDisplay, map[string]any{
		"score":   FormatAmount(roundHalfUp(score)),
		"band":    strings.ReplaceAll(string(band), "_", " "),
		"savings": FormatAmount(savings),
		"loans":   FormatAmount(outstanding),
	})
}

type loanLine struct {
	Amount  string
	Purpose string
	Status  string
}

func (t *Templates) LoanDetails(loans []domain.LoanRequest) string {
	if len(loans) == 0 {
		return t.render(KeyLoanDetailsEmpty, nil)
	}
	lines := make([]loanLine, 0, len(loans))
	for _, l := range loans {
		lines = append(lines, loanLine{Amount: FormatAmount(l.Amount), Purpose: string(l.Purpose), Status: string(l.Status)})
	}
	return t.render(KeyLoanDetails, map[string]any{"loans": lines})
}

func (t *Templates) LeaderContact(name, phone string) string {
	return t.render(KeyLeaderContact, map[string]any{"name": name, "phone": phone})
}

// SchemesList lists scheme display names, or a keep-contributing note when there are none.
func (t *Templates) SchemesList(names []string) string {
	if len(names) == 0 {
		return t.render(KeySchemesListEmpty, nil)
	}
	return t.render(KeySchemesList, map[string]any{"schemes": names})
}

func (t *Templates) VerificationRequest(action domain.TransactionType, amount float64) string {
	return t.render(KeyVerificationRequest, map[string]any{"action": string(action), "amount": FormatAmount(amount)})
}

func (t *Templates) SchemeNotification(scheme, benefit string) string {
	return t.render(KeySchemeNotification, map[string]any{"scheme": scheme, "benefit": benefit})
}

// LeaderLoanRequest is sent to the group leader when a member submits a loan request.
func (t *Templates) LeaderLoanRequest(memberName string, amount float64, purpose domain.LoanPurpose, months int, score float64) string {
	return t.render(KeyLeaderLoanRequest, map[string]any{
		"name":    memberName,
		"amount":  FormatAmount(amount),
		"purpose": string(purpose),
		"months":  months,
		"score":   FormatAmount(score),
	})
}

// roundHalfUp rounds halves towards +Inf.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}
