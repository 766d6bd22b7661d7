package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/quotedesk/quotedesk/internal/jobs"
	"github.com/quotedesk/quotedesk/internal/quotation"
)

// Enqueuer submits follow-up tasks produced by a job run.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// ExpiryDigestJob scans open quotations and mails each salesperson a digest of
// deals that are overdue, due within the horizon, or freshly expired.
type ExpiryDigestJob struct {
	Pool     *pgxpool.Pool
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Enqueuer Enqueuer
	clock    func() time.Time
}

// NewExpiryDigestJob initialises the digest handler.
func NewExpiryDigestJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics, enqueuer Enqueuer) *ExpiryDigestJob {
	return &ExpiryDigestJob{
		Pool:     pool,
		Logger:   logger,
		Metrics:  metrics,
		Enqueuer: enqueuer,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type digestEntry struct {
	QuotationNo   string
	CustomerName  string
	GrandTotal    float64
	State         quotation.ValidityState
	RemainingDays int
}

type digestRecipient struct {
	Email   string
	Name    string
	Entries []digestEntry
}

// Handle executes one digest run.
func (j *ExpiryDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("expiry digest: handler not configured")
	}
	var payload ExpiryDigestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.HorizonDays <= 0 {
		payload.HorizonDays = 2
	}

	start := j.now()
	tracker := j.metrics().Track(TaskTypeExpiryDigest)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("horizon_days", payload.HorizonDays))
	logger.Info("starting expiry digest")

	recipients, scanned, err := j.collect(ctx, start, payload.HorizonDays)
	if err != nil {
		resultErr = err
		logger.Error("digest scan failed", slog.Any("error", err))
		return resultErr
	}

	sent := 0
	for _, rcpt := range recipients {
		if rcpt.Email == "" || len(rcpt.Entries) == 0 {
			continue
		}
		for _, e := range rcpt.Entries {
			j.metrics().AddDigestEntries(string(e.State), 1)
		}
		if j.Enqueuer == nil {
			continue
		}
		if _, err := j.Enqueuer.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      rcpt.Email,
			Subject: digestSubject(rcpt.Entries),
			Body:    digestBody(rcpt.Name, rcpt.Entries),
		}); err != nil {
			resultErr = err
			logger.Error("enqueue digest mail", slog.String("to", rcpt.Email), slog.Any("error", err))
			return resultErr
		}
		sent++
	}

	logger.Info("completed expiry digest",
		slog.Int("scanned", scanned),
		slog.Int("recipients", sent),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

// digestIncludes reports whether a quotation belongs in the digest: freshly
// expired (one day past), expiring today, or due within horizonDays.
func digestIncludes(v quotation.Validity, horizonDays int) bool {
	return v.RemainingDays >= -1 && v.RemainingDays <= horizonDays
}

func (j *ExpiryDigestJob) collect(ctx context.Context, now time.Time, horizonDays int) ([]digestRecipient, int, error) {
	if j.Pool == nil {
		return nil, 0, errors.New("expiry digest: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT q.quotation_no, q.quotation_date, q.validity_days,
		       q.total_value::double precision,
		       q.customer_snapshot->>'name',
		       u.email, u.full_name
		FROM quotations q
		JOIN users u ON u.id = q.salesperson_id
		WHERE q.status IN ('draft', 'pending')
		  AND NOT q.is_deleted
		  AND q.quotation_no IS NOT NULL
		ORDER BY u.id, q.quotation_date`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	byEmail := make(map[string]*digestRecipient)
	scanned := 0
	for rows.Next() {
		var quotationNo, customerName, email, fullName string
		var quotationDate time.Time
		var validityDays int
		var grandTotal float64
		if err := rows.Scan(&quotationNo, &quotationDate, &validityDays, &grandTotal, &customerName, &email, &fullName); err != nil {
			return nil, 0, err
		}
		scanned++

		validity := quotation.EvaluateValidity(quotationDate, validityDays, now)
		if !digestIncludes(validity, horizonDays) {
			continue
		}

		rcpt, ok := byEmail[email]
		if !ok {
			rcpt = &digestRecipient{Email: email, Name: fullName}
			byEmail[email] = rcpt
		}
		rcpt.Entries = append(rcpt.Entries, digestEntry{
			QuotationNo:   quotationNo,
			CustomerName:  customerName,
			GrandTotal:    grandTotal,
			State:         validity.State,
			RemainingDays: validity.RemainingDays,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	recipients := make([]digestRecipient, 0, len(byEmail))
	for _, rcpt := range byEmail {
		recipients = append(recipients, *rcpt)
	}
	sort.Slice(recipients, func(i, k int) bool { return recipients[i].Email < recipients[k].Email })
	return recipients, scanned, nil
}

func digestSubject(entries []digestEntry) string {
	return fmt.Sprintf("Quotation validity digest: %d deal(s) need attention", len(entries))
}

func digestBody(name string, entries []digestEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThe following quotations need attention:\n\n", name)
	for _, e := range entries {
		switch e.State {
		case quotation.ValidityExpired:
			fmt.Fprintf(&b, "  %s (%s) - expired, consider re-issuing\n", e.QuotationNo, e.CustomerName)
		case quotation.ValidityOverdue:
			fmt.Fprintf(&b, "  %s (%s) - expires today\n", e.QuotationNo, e.CustomerName)
		default:
			fmt.Fprintf(&b, "  %s (%s) - expires in %d day(s)\n", e.QuotationNo, e.CustomerName, e.RemainingDays)
		}
	}
	b.WriteString("\nThis is an automated message from QuoteDesk.\n")
	return b.String()
}

func (j *ExpiryDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeExpiryDigest))
	}
	return slog.Default().With(slog.String("job", TaskTypeExpiryDigest))
}

func (j *ExpiryDigestJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *ExpiryDigestJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
