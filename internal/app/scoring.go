/**
 * @description
 * The credit scoring engine. It turns a member's transaction, attendance and loan history
 * into a 0..100 score, a band and a confidence label, and writes the result back onto the
 * member row.
 *
 * Key features:
 * - Founding mode: members without any dated transaction are scored from the five
 *   onboarding snapshot fields alone.
 * - Full mode: a weighted sum of nine behavioural factors.
 * - ComputeScore is pure; ScoreEngine.Recompute loads the snapshot and persists the output.
 *
 * @notes
 * - The two modes use different inputs, so a score can jump the first time a dated
 *   transaction arrives. This is intended.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/google/uuid"
)

// Full mode factor weights. They sum to 1.
const (
	WeightRepaymentOnTime = 0.25
	WeightGrowth          = 0.15
	WeightSpeed           = 0.15
	WeightFrequency       = 0.13
	WeightAmount          = 0.12
	WeightConnections     = 0.05
	WeightAttendance      = 0.05
	WeightTenure          = 0.05
	WeightLoanPurpose     = 0.05
)

const (
	maxTenureMonths       = 60
	defaultPurposeScore   = 35
	noLoanPurposeScore    = 70
	noAttendanceScore     = 75
	noPeerScore           = 50
	neutralGrowthScore    = 50
	generosityBaseline    = 100
	minGrowthObservations = 3
)

var purposeScores = map[domain.LoanPurpose]float64{
	domain.PurposeAgriculture:    95,
	domain.PurposeBusiness:       90,
	domain.PurposeEducation:      85,
	domain.PurposeHomeRepair:     70,
	domain.PurposeMedical:        65,
	domain.PurposeFamilyFunction: 40,
	domain.PurposeOther:          35,
}

// ScoreInput is the snapshot the score is computed from.
type ScoreInput struct {
	Member       domain.Member
	Transactions []domain.Transaction // ascending by ActualDate
	Attendance   []domain.MeetingAttendance
	Loans        []domain.LoanRequest
	PeerScores   []float64 // current scores of the other members of the group
}

// ScoreFactors holds the nine full-mode factor scores, each on a 0..100 scale.
type ScoreFactors struct {
	RepaymentOnTime float64
	Growth          float64
	Speed           float64
	Frequency       float64
	Amount          float64
	Connections     float64
	Attendance      float64
	Tenure          float64
	LoanPurpose     float64
}

// Weighted returns the weighted sum of the factors before rounding.
func (f ScoreFactors) Weighted() float64 {
	return f.RepaymentOnTime*WeightRepaymentOnTime +
		f.Growth*WeightGrowth +
		f.Speed*WeightSpeed +
		f.Frequency*WeightFrequency +
		f.Amount*WeightAmount +
		f.Connections*WeightConnections +
		f.Attendance*WeightAttendance +
		f.Tenure*WeightTenure +
		f.LoanPurpose*WeightLoanPurpose
}

// MonthsWithData counts the distinct calendar months (UTC) that have at least one transaction.
func MonthsWithData(txs []domain.Transaction) int {
	months := make(map[[2]int]struct{}, len(txs))
	for _, tx := range txs {
		d := tx.ActualDate.UTC()
		months[[2]int{d.Year(), int(d.Month())}] = struct{}{}
	}
	return len(months)
}

// ComputeScore scores a member snapshot.
func ComputeScore(in ScoreInput) domain.CreditScore {
	months := MonthsWithData(in.Transactions)

	var raw float64
	if months < 1 {
		raw = foundingScore(in.Member)
	} else {
		raw = ComputeFactors(in, months).Weighted()
	}

	score := clamp(math.Round(raw*10)/10, 0, 100)
	return domain.CreditScore{
		Score:      score,
		Band:       domain.BandForScore(score),
		Confidence: domain.ConfidenceForMonths(months),
	}
}

func foundingScore(m domain.Member) float64 {
	score := 40.0
	score += math.Min(float64(m.TenureMonths)/maxTenureMonths, 1) * 20
	score += math.Min(float64(m.LoansCompleted)*5, 20)
	if m.RepaymentOnTime {
		score += 10
	}
	if m.OutstandingLoanAmount == 0 {
		score += 10
	}
	return score
}

// ComputeFactors evaluates the nine full-mode factors.
func ComputeFactors(in ScoreInput, monthsWithData int) ScoreFactors {
	var contributions []float64
	var daysLate []int
	for _, tx := range in.Transactions {
		switch tx.Type {
		case domain.TransactionContribution:
			contributions = append(contributions, tx.Amount)
		case domain.TransactionLoanRepayment:
			daysLate = append(daysLate, tx.DaysLate)
		}
	}

	f := ScoreFactors{
		RepaymentOnTime: 100,
		Growth:          neutralGrowthScore,
		Speed:           100,
		Connections:     noPeerScore,
		Attendance:      noAttendanceScore,
		LoanPurpose:     noLoanPurposeScore,
	}

	if len(daysLate) > 0 {
		onTime, total := 0, 0
		for _, d := range daysLate {
			if d <= 0 {
				onTime++
			}
			total += d
		}
		f.RepaymentOnTime = float64(onTime) / float64(len(daysLate)) * 100
		f.Speed = speedScore(float64(total) / float64(len(daysLate)))
	}

	avg := mean(contributions)
	if len(contributions) >= minGrowthObservations {
		normalized := 0.0
		if avg > 0 {
			normalized = linearSlope(contributions) / avg
		}
		f.Growth = clamp(50+normalized*500, 0, 100)
	}

	tenure := float64(in.Member.TenureMonths)
	f.Frequency = math.Min(float64(monthsWithData)/math.Max(tenure, 1)*100, 100)

	cv := 1.0
	if avg > 0 {
		cv = stdDev(contributions) / avg
	}
	consistency := math.Max(0, (1-cv)*100)
	generosity := math.Min(avg/generosityBaseline*50, 100)
	f.Amount = 0.6*consistency + 0.4*generosity

	if len(in.PeerScores) > 0 {
		f.Connections = mean(in.PeerScores)
	}

	if len(in.Attendance) > 0 {
		attended := 0
		for _, a := range in.Attendance {
			if a.Attended {
				attended++
			}
		}
		f.Attendance = float64(attended) / float64(len(in.Attendance)) * 100
	}

	f.Tenure = math.Min(tenure/maxTenureMonths, 1) * 100

	if len(in.Loans) > 0 {
		scores := make([]float64, 0, len(in.Loans))
		for _, l := range in.Loans {
			s, ok := purposeScores[l.Purpose]
			if !ok {
				s = defaultPurposeScore
			}
			scores = append(scores, s)
		}
		f.LoanPurpose = mean(scores)
	}

	return f
}

// speedScore maps the mean days late of repayments: 30+ days early is 100, on the due
// date is 70, 30+ days late is 0.
func speedScore(avgDaysLate float64) float64 {
	switch {
	case avgDaysLate <= -30:
		return 100
	case avgDaysLate <= 0:
		return 70 + math.Abs(avgDaysLate)/30*30
	default:
		return math.Max(0, 70-avgDaysLate/30*70)
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation; it is 0 for fewer than two values.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// linearSlope is the least-squares slope of values against their index.
func linearSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	yMean := mean(values)
	var num, den float64
	for i, y := range values {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ScoreEngine recomputes and persists member credit scores.
type ScoreEngine struct {
	repo   store.Repository
	events *EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewScoreEngine creates a ScoreEngine. events may be nil.
func NewScoreEngine(repo store.Repository, events *EventBus, logger *slog.Logger) *ScoreEngine {
	return &ScoreEngine{repo: repo, events: events, logger: logger, now: time.Now}
}

// Recompute loads a fresh snapshot of the member, scores it and writes the result back.
// It returns store.ErrMemberNotFound for an unknown member.
func (e *ScoreEngine) Recompute(ctx context.Context, memberID uuid.UUID) (domain.CreditScore, error) {
	in, err := e.loadInput(ctx, memberID)
	if err != nil {
		return domain.CreditScore{}, err
	}

	score := ComputeScore(in)
	if err := e.repo.UpdateMemberScore(ctx, memberID, score); err != nil {
		return domain.CreditScore{}, fmt.Errorf("failed to persist score: %w", err)
	}

	e.logger.Debug("credit score recomputed", "member_id", memberID, "score", score.Score, "band", score.Band, "confidence", score.Confidence)
	e.events.publish(ctx, domain.EventScoreUpdated, domain.ScoreUpdatedEvent{
		MemberID:   memberID,
		Score:      score.Score,
		Band:       score.Band,
		Confidence: score.Confidence,
		Timestamp:  e.now().UTC(),
	})
	return score, nil
}

func (e *ScoreEngine) loadInput(ctx context.Context, memberID uuid.UUID) (ScoreInput, error) {
	member, err := e.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		return ScoreInput{}, err
	}
	txs, err := e.repo.FindTransactionsByMemberID(ctx, memberID)
	if err != nil {
		return ScoreInput{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	attendance, err := e.repo.FindAttendanceByMemberID(ctx, memberID)
	if err != nil {
		return ScoreInput{}, fmt.Errorf("failed to load attendance: %w", err)
	}
	loans, err := e.repo.FindLoanRequestsByMemberID(ctx, memberID)
	if err != nil {
		return ScoreInput{}, fmt.Errorf("failed to load loan requests: %w", err)
	}
	peers, err := e.repo.FindPeerScores(ctx, member.GroupID, memberID)
	if err != nil {
		return ScoreInput{}, fmt.Errorf("failed to load peer scores: %w", err)
	}
	return ScoreInput{Member: *member, Transactions: txs, Attendance: attendance, Loans: loans, PeerScores: peers}, nil
}
