// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline orchestrates per-message processing: authorize → dedupe →
// extract → allocate → render → archive → reply. Each message runs the state
// machine to a terminal state; one message's failure never aborts the batch.
// Transient failures of the extraction service and the archive store are
// retried a small bounded number of times with backoff, everything else is
// terminal immediately.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/billforge/invoicer/internal/archive"
	"github.com/billforge/invoicer/internal/extract"
	"github.com/billforge/invoicer/internal/models"
)

// State is one step of the per-message state machine.
type State string

// Pipeline states. The first group is the success path; the second group is
// terminal failures.
const (
	StateFetched    State = "fetched"
	StateAuthorized State = "authorized"
	StateExtracted  State = "extracted"
	StateNumbered   State = "numbered"
	StateRendered   State = "rendered"
	StateArchived   State = "archived"
	StateDelivered  State = "delivered"

	StateRejected         State = "rejected"
	StateDuplicate        State = "duplicate"
	StateExtractionFailed State = "extraction_failed"
	StateAllocationFailed State = "allocation_failed"
	StateRenderFailed     State = "render_failed"
	StateArchiveFailed    State = "archive_failed"
	StateDeliveryFailed   State = "delivery_failed"
)

// Mailbox is the mail transport collaborator.
type Mailbox interface {
	ListUnread(ctx context.Context, since time.Time) ([]models.InboundMessage, error)
	SendReply(ctx context.Context, toAddress, subject, bodyHTML, attachmentName string, attachment []byte) error
	MarkRead(ctx context.Context, messageID string) error
}

// Authorizer decides whether a sender may use the service.
type Authorizer interface {
	IsAuthorized(senderAddress string) bool
}

// Extractor turns a message body into a structured invoice request.
type Extractor interface {
	Extract(ctx context.Context, messageBody string) (*models.InvoiceRequest, error)
}

// Allocator issues the next invoice number.
type Allocator interface {
	AllocateNext(ctx context.Context) (int64, error)
}

// Renderer produces the finished PDF.
type Renderer interface {
	Render(ctx context.Context, req *models.InvoiceRequest, invoiceNumber int64, issuedAt time.Time) ([]byte, error)
}

// Archive stores rendered documents, write-once.
type Archive interface {
	PutDocument(key string, data []byte) error
}

// Ledger is the durable record of issued invoices.
type Ledger interface {
	Insert(ctx context.Context, r models.InvoiceRecord) error
	GetBySourceMessage(ctx context.Context, messageID string) (*models.InvoiceRecord, error)
	MarkDelivery(ctx context.Context, number int64, status string) error
}

// DedupFilter is the fast-path processed-message check.
type DedupFilter interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// Result is the terminal outcome for one message.
type Result struct {
	MessageID     string
	State         State
	InvoiceNumber int64
	Err           error
}

// Delivered reports whether the message completed the full success path.
func (r Result) Delivered() bool { return r.State == StateDelivered }

// retryAttempts bounds in-process retries of transient failures.
const retryAttempts = 3

// Config holds the pipeline's dependencies and tuning.
type Config struct {
	Mailbox    Mailbox
	Authorizer Authorizer
	Extractor  Extractor
	Allocator  Allocator
	Renderer   Renderer
	Archive    Archive
	Ledger     Ledger
	Dedup      DedupFilter

	SellerName   string
	StageTimeout time.Duration // per external call; default 30s
	RetryBackoff time.Duration // initial backoff between transient retries
}

// Pipeline processes inbound messages into archived, delivered invoices.
type Pipeline struct {
	mailbox    Mailbox
	authorizer Authorizer
	extractor  Extractor
	allocator  Allocator
	renderer   Renderer
	archive    Archive
	ledger     Ledger
	dedup      DedupFilter

	sellerName   string
	stageTimeout time.Duration
	retryBackoff time.Duration

	now func() time.Time
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.StageTimeout == 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 1 * time.Second
	}
	return &Pipeline{
		mailbox:      cfg.Mailbox,
		authorizer:   cfg.Authorizer,
		extractor:    cfg.Extractor,
		allocator:    cfg.Allocator,
		renderer:     cfg.Renderer,
		archive:      cfg.Archive,
		ledger:       cfg.Ledger,
		dedup:        cfg.Dedup,
		sellerName:   cfg.SellerName,
		stageTimeout: cfg.StageTimeout,
		retryBackoff: cfg.RetryBackoff,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Process runs one message through the state machine to a terminal state.
// Never returns an error — failures are encoded in the Result and logged.
func (p *Pipeline) Process(ctx context.Context, msg models.InboundMessage) Result {
	log := slog.With("message_id", msg.ID, "sender", msg.From.Address)

	// --- Authorize ---
	// Unauthorized messages are dropped silently: logged, not processed,
	// not replied to.
	if !p.authorizer.IsAuthorized(msg.From.Address) {
		log.Info("dropping message from unapproved sender")
		return Result{MessageID: msg.ID, State: StateRejected}
	}

	// --- Dedupe ---
	// Fast path: Redis SETNX. A filter error is logged and ignored — the
	// ledger's unique index below is the durable backstop.
	if p.dedup != nil {
		isNew, err := p.dedup.IsNew(ctx, msg.ID)
		if err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			log.Debug("skipping duplicate message")
			return Result{MessageID: msg.ID, State: StateDuplicate}
		}
	}
	if existing, err := p.ledger.GetBySourceMessage(ctx, msg.ID); err != nil {
		log.Warn("ledger dedup lookup failed, proceeding", "error", err)
	} else if existing != nil {
		log.Info("message already produced an invoice",
			"invoice_number", existing.Number,
		)
		return Result{MessageID: msg.ID, State: StateDuplicate, InvoiceNumber: existing.Number}
	}

	// --- Extract ---
	var req *models.InvoiceRequest
	err := p.retryTransient(ctx, func(stageCtx context.Context) error {
		var err error
		req, err = p.extractor.Extract(stageCtx, msg.BodyText)
		return err
	})
	if err != nil {
		log.Error("extraction failed", "stage", StateExtracted, "error", err)
		return Result{MessageID: msg.ID, State: StateExtractionFailed, Err: err}
	}

	// --- Allocate ---
	// Numbers are assigned only after extraction succeeds, so malformed
	// messages never consume one. A later render failure retires the
	// number; it is never reclaimed.
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	number, err := p.allocator.AllocateNext(stageCtx)
	cancel()
	if err != nil {
		log.Error("allocation failed", "stage", StateNumbered, "error", err)
		return Result{MessageID: msg.ID, State: StateAllocationFailed, Err: err}
	}
	log = log.With("invoice_number", number)

	issuedAt := p.now()

	// --- Render ---
	stageCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
	pdf, err := p.renderer.Render(stageCtx, req, number, issuedAt)
	cancel()
	if err != nil {
		log.Error("render failed, invoice number retired",
			"stage", StateRendered,
			"error", err,
		)
		return Result{MessageID: msg.ID, State: StateRenderFailed, InvoiceNumber: number, Err: err}
	}

	// --- Archive ---
	key := archive.DocumentKey(number)
	err = p.retryTransient(ctx, func(context.Context) error {
		return p.archive.PutDocument(key, pdf)
	})
	if err != nil {
		log.Error("archive failed", "stage", StateArchived, "key", key, "error", err)
		return Result{MessageID: msg.ID, State: StateArchiveFailed, InvoiceNumber: number, Err: err}
	}

	record := models.InvoiceRecord{
		Number:          number,
		Request:         *req,
		GeneratedAt:     issuedAt,
		SourceMessageID: msg.ID,
		SenderAddress:   msg.From.Address,
		DocumentKey:     key,
	}
	stageCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
	err = p.ledger.Insert(stageCtx, record)
	cancel()
	if err != nil {
		log.Error("ledger insert failed", "stage", StateArchived, "error", err)
		return Result{MessageID: msg.ID, State: StateArchiveFailed, InvoiceNumber: number, Err: err}
	}

	// --- Deliver ---
	// A failure here is non-fatal to data integrity: the document is
	// recoverable from the archive and the record is marked for manual
	// resend.
	subject, bodyHTML := replyContent(p.sellerName, number, issuedAt, req)
	stageCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
	err = p.mailbox.SendReply(stageCtx, msg.From.Address, subject, bodyHTML,
		attachmentName(number), pdf)
	cancel()
	if err != nil {
		log.Error("delivery failed, invoice archived and marked for manual resend",
			"stage", StateDelivered,
			"error", err,
		)
		if markErr := p.ledger.MarkDelivery(ctx, number, models.DeliveryFailed); markErr != nil {
			log.Error("failed to mark delivery status", "error", markErr)
		}
		return Result{MessageID: msg.ID, State: StateDeliveryFailed, InvoiceNumber: number, Err: err}
	}

	if err := p.ledger.MarkDelivery(ctx, number, models.DeliverySent); err != nil {
		log.Warn("failed to mark delivery status", "error", err)
	}

	// Best-effort inbox tidiness; dedup never depends on the read flag.
	stageCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
	if err := p.mailbox.MarkRead(stageCtx, msg.ID); err != nil {
		log.Warn("failed to mark message read", "error", err)
	}
	cancel()

	log.Info("invoice delivered", "recipient", req.RecipientName, "total", req.Total())
	return Result{MessageID: msg.ID, State: StateDelivered, InvoiceNumber: number}
}

// retryTransient runs fn with a per-attempt timeout, retrying transient
// failures with doubling backoff. Non-transient errors return immediately.
func (p *Pipeline) retryTransient(ctx context.Context, fn func(context.Context) error) error {
	delay := p.retryBackoff
	for attempt := 1; ; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		err := fn(stageCtx)
		cancel()

		if err == nil || !isTransient(err) || attempt >= retryAttempts {
			return err
		}

		slog.Warn("transient failure, retrying",
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry abandoned: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// isTransient reports whether an error kind may clear on retry. Everything
// else indicates malformed input or configuration.
func isTransient(err error) bool {
	return errors.Is(err, extract.ErrServiceUnavailable) ||
		errors.Is(err, archive.ErrUnavailable)
}

// replyContent builds the subject and HTML body of the invoice reply.
func replyContent(sellerName string, number int64, issuedAt time.Time, req *models.InvoiceRequest) (subject, bodyHTML string) {
	date := issuedAt.Format("2 January 2006")
	subject = fmt.Sprintf("%s — Invoice #%06d dated %s", sellerName, number, date)
	bodyHTML = fmt.Sprintf(`<p>Hi,</p>
<p>Please find attached invoice #%06d for %s.</p>
<p>Invoice date: %s<br>
Invoice total: %s %.2f</p>
<p>Thanks,<br>%s</p>`,
		number, req.RecipientName, date, req.Currency, req.Total(), sellerName)
	return subject, bodyHTML
}

// attachmentName derives the PDF file name sent to the requester.
func attachmentName(number int64) string {
	return fmt.Sprintf("Invoice %06d.pdf", number)
}
