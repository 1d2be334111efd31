package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/ticket-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/ticket-payments/internal/core/events"
	"github.com/frahmantamala/ticket-payments/internal/paymentgateway"
	ticketpkg "github.com/frahmantamala/ticket-payments/internal/ticket"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	recentSuccessful = 10
)

// ServiceAPI is what the HTTP handlers and the reconcile sweep depend on.
type ServiceAPI interface {
	CreatePayment(ctx context.Context, payer Payer, target Target, meta RequestMeta) (*Initialized, error)
	VerifyAndComplete(ctx context.Context, reference string) (*Payment, error)
	HandleWebhook(ctx context.Context, event gatewaytypes.WebhookEvent) bool
	RecordWebhook(ctx context.Context, event gatewaytypes.WebhookEvent, outcome string)
	Refund(ctx context.Context, id uuid.UUID, amount *decimal.Decimal) (*Payment, error)
	Cancel(ctx context.Context, viewer *internal.User, id uuid.UUID) (*Payment, error)
	List(ctx context.Context, viewer *internal.User, filter ListFilter) ([]Payment, error)
	Mine(ctx context.Context, viewer *internal.User, filter ListFilter) ([]Payment, error)
	Get(ctx context.Context, viewer *internal.User, id uuid.UUID) (*Payment, error)
	Logs(ctx context.Context, id uuid.UUID) ([]TransactionLog, error)
	Dashboard(ctx context.Context) (*DashboardStats, error)
}

type Config struct {
	UnitPrice   decimal.Decimal
	Currency    string
	CallbackURL string
}

type Dependencies struct {
	Config   Config
	Payments Repository
	Logs     TransactionLogRepository
	Stats    StatsRepository
	Tickets  ticketpkg.Repository
	Gateway  Gateway
	Tx       TxRunner
	Events   EventPublisher
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	cfg      Config
	payments Repository
	logs     TransactionLogRepository
	stats    StatsRepository
	tickets  ticketpkg.Repository
	gateway  Gateway
	tx       TxRunner
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      deps.Config,
		payments: deps.Payments,
		logs:     deps.Logs,
		stats:    deps.Stats,
		tickets:  deps.Tickets,
		gateway:  deps.Gateway,
		tx:       deps.Tx,
		events:   deps.Events,
		logger:   logger,
		now:      now,
	}
}

// CreatePayment records a pending payment for one ticket or a bulk list and
// opens a checkout with the gateway. The amount is always unit price times
// ticket count. If the gateway refuses, the payment is kept as failed and
// the gateway error is returned.
func (s *Service) CreatePayment(ctx context.Context, payer Payer, target Target, meta RequestMeta) (*Initialized, error) {
	if payer.Email == "" {
		return nil, &ValidationError{Field: "email", Message: "payer email is required"}
	}

	tickets, bulk, err := s.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	amount := s.cfg.UnitPrice.Mul(decimal.NewFromInt(int64(len(tickets))))
	reference := s.gateway.NewReference()

	p := &Payment{
		Reference:  reference,
		Amount:     amount,
		Currency:   s.cfg.Currency,
		Status:     payment.StatusPending,
		PayerEmail: payer.Email,
		PayerName:  payer.Name,
		PayerPhone: payer.Phone,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	}

	md := payment.Metadata{}
	if payer.UserID != nil {
		md.UserID = payer.UserID.String()
	}
	gatewayMeta := map[string]any{}
	if bulk {
		for _, t := range tickets {
			md.TicketIDs = append(md.TicketIDs, t.ID.String())
			md.TicketRefs = append(md.TicketRefs, t.TicketCode)
		}
		md.IsBulk = true
		md.Count = len(tickets)
		p.Description = fmt.Sprintf("Bulk payment for %d tickets", len(tickets))
		gatewayMeta["is_bulk"] = true
		gatewayMeta["ticket_count"] = len(tickets)
	} else {
		t := tickets[0]
		p.TicketID = &t.ID
		md.TicketRef = t.TicketCode
		p.Description = fmt.Sprintf("Payment for ticket %s", t.TicketCode)
		gatewayMeta["ticket_id"] = t.ID.String()
		gatewayMeta["ticket_code"] = t.TicketCode
	}
	p.Metadata = datatypes.NewJSONType(md)

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment %s: %w", reference, err)
	}
	gatewayMeta["payment_id"] = p.ID.String()

	s.logger.Info("payment created",
		"payment_id", p.ID,
		"reference", reference,
		"amount", p.Amount.StringFixed(2),
		"tickets", len(tickets),
		"bulk", bulk)

	res, err := s.gateway.Initialize(ctx, gatewaytypes.InitializeRequest{
		PaymentID:   &p.ID,
		Email:       payer.Email,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Reference:   reference,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    gatewayMeta,
	})
	if err != nil {
		s.logger.Error("payment initialization failed", "reference", reference, "error", err)
		raw, _ := json.Marshal(map[string]string{"error": err.Error()})
		if _, ferr := s.fail(ctx, p, raw, "initialize"); ferr != nil {
			s.logger.Error("failed to mark payment failed", "reference", reference, "error", ferr)
		}
		return nil, fmt.Errorf("initialize payment %s: %w", reference, err)
	}

	if res.Reference != "" {
		if err := s.payments.SetGatewayReference(ctx, p.ID, res.Reference); err != nil {
			return nil, fmt.Errorf("store gateway reference for %s: %w", reference, err)
		}
		ref := res.Reference
		p.GatewayReference = &ref
	}

	return &Initialized{
		Payment:          p,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
	}, nil
}

func (s *Service) resolveTarget(ctx context.Context, target Target) ([]ticketpkg.Ticket, bool, error) {
	switch {
	case target.TicketID != nil && len(target.TicketIDs) > 0:
		return nil, false, &ValidationError{Message: "provide either ticket_id or ticket_ids, not both"}
	case target.TicketID != nil:
		t, err := s.tickets.GetByID(ctx, *target.TicketID)
		if err != nil {
			return nil, false, fmt.Errorf("load ticket %s: %w", target.TicketID, err)
		}
		if t.IsApproved() {
			return nil, false, fmt.Errorf("ticket %s: %w", t.TicketCode, ErrTicketAlreadyPaid)
		}
		paid, err := s.payments.HasSuccessfulPaymentForTicket(ctx, t.ID)
		if err != nil {
			return nil, false, fmt.Errorf("check payments for ticket %s: %w", t.TicketCode, err)
		}
		if paid {
			return nil, false, fmt.Errorf("ticket %s: %w", t.TicketCode, ErrTicketAlreadyPaid)
		}
		return []ticketpkg.Ticket{*t}, false, nil
	case len(target.TicketIDs) > 0:
		ids := dedupe(target.TicketIDs)
		found, err := s.tickets.GetByIDs(ctx, ids)
		if err != nil {
			return nil, false, fmt.Errorf("load tickets: %w", err)
		}
		if len(found) != len(ids) {
			return nil, false, fmt.Errorf("%d of %d tickets missing: %w", len(ids)-len(found), len(ids), ticketpkg.ErrTicketNotFound)
		}
		for i := range found {
			if found[i].IsApproved() {
				return nil, false, fmt.Errorf("ticket %s: %w", found[i].TicketCode, ErrTicketAlreadyPaid)
			}
		}
		return found, true, nil
	default:
		return nil, false, &ValidationError{Message: "ticket_id or ticket_ids is required"}
	}
}

// VerifyAndComplete asks the gateway for the outcome of a pending payment and
// settles it. A payment that already succeeded is returned unchanged without
// contacting the gateway.
func (s *Service) VerifyAndComplete(ctx context.Context, reference string) (*Payment, error) {
	if reference == "" {
		return nil, &ValidationError{Field: "reference", Message: "reference is required"}
	}

	p, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case payment.StatusSuccess:
		s.logger.Debug("payment already settled", "reference", reference)
		return p, nil
	case payment.StatusPending:
	default:
		return p, &NotSuccessfulError{Reference: reference, Status: p.Status}
	}

	res, err := s.gateway.Verify(ctx, &p.ID, reference)
	if err != nil {
		return nil, fmt.Errorf("verify payment %s: %w", reference, err)
	}

	if res.Successful() && s.amountMatches(p, res.Data) {
		return s.complete(ctx, p, successDetails(res.Data, res.Raw), "verify")
	}

	gatewayStatus := string(res.Data.Status)
	if res.Successful() {
		gatewayStatus = "amount_mismatch"
		s.logger.Warn("gateway amount does not match payment",
			"reference", reference,
			"expected", p.Amount.StringFixed(2),
			"reported_minor", res.Data.Amount)
	}

	settled, err := s.fail(ctx, p, res.Raw, "verify")
	if err != nil {
		return nil, err
	}
	if settled.Status == payment.StatusSuccess {
		return settled, nil
	}
	return settled, &NotSuccessfulError{Reference: reference, Status: settled.Status, GatewayStatus: gatewayStatus}
}

// HandleWebhook records every delivery, then settles the referenced payment
// for charge.success events. It reports whether the event was acted on and
// never fails the delivery.
func (s *Service) HandleWebhook(ctx context.Context, event gatewaytypes.WebhookEvent) bool {
	s.RecordWebhook(ctx, event, "received")

	if event.Event != gatewaytypes.EventChargeSuccess {
		s.logger.Info("webhook event ignored", "event", event.Event)
		return false
	}

	var data gatewaytypes.TransactionData
	if err := json.Unmarshal(event.Data, &data); err != nil || data.Reference == "" {
		s.logger.Warn("webhook without reference ignored", "event", event.Event)
		return false
	}

	p, err := s.payments.GetByReference(ctx, data.Reference)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			s.logger.Warn("webhook for unknown payment", "reference", data.Reference)
		} else {
			s.logger.Error("webhook payment lookup failed", "reference", data.Reference, "error", err)
		}
		return false
	}

	switch p.Status {
	case payment.StatusSuccess:
		return true
	case payment.StatusPending:
	default:
		s.logger.Warn("webhook for settled payment ignored", "reference", data.Reference, "status", p.Status)
		return false
	}

	if !s.amountMatches(p, data) {
		s.logger.Warn("webhook amount does not match payment",
			"reference", data.Reference,
			"expected", p.Amount.StringFixed(2),
			"reported_minor", data.Amount)
		return false
	}

	settled, err := s.complete(ctx, p, successDetails(data, event.Data), "webhook")
	if err != nil {
		s.logger.Error("webhook settlement failed", "reference", data.Reference, "error", err)
		return false
	}
	return settled.Status == payment.StatusSuccess
}

// RecordWebhook appends one webhook audit row. outcome tells deliveries that
// were handed to HandleWebhook apart from ones acknowledged without it.
func (s *Service) RecordWebhook(ctx context.Context, event gatewaytypes.WebhookEvent, outcome string) {
	body, err := json.Marshal(event)
	if err != nil {
		body = []byte(`{}`)
	}
	response, _ := json.Marshal(map[string]string{"outcome": outcome})
	if err := s.logs.Create(ctx, &TransactionLog{
		TransactionType: payment.TransactionWebhook,
		RequestData:     datatypes.JSON(body),
		ResponseData:    datatypes.JSON(response),
		IsSuccessful:    true,
	}); err != nil {
		s.logger.Error("failed to record webhook", "event", event.Event, "outcome", outcome, "error", err)
	}
}

// Refund returns money for a successful payment, in full when amount is nil.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, amount *decimal.Decimal) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !payment.CanTransition(p.Status, payment.StatusRefunded) {
		return nil, &InvalidTransitionError{From: p.Status, To: payment.StatusRefunded}
	}

	req := gatewaytypes.RefundRequest{
		PaymentID:   &p.ID,
		Transaction: p.Reference,
		Currency:    p.Currency,
	}
	if amount != nil {
		if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
			return nil, &ValidationError{Field: "amount", Message: "refund amount must be positive and not exceed the payment amount"}
		}
		minor, err := paymentgateway.ToMinorUnits(*amount)
		if err != nil {
			return nil, err
		}
		req.AmountMinor = &minor
	}

	res, err := s.gateway.Refund(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", p.Reference, err)
	}

	next := *p
	if err := next.MarkRefunded(res.Raw); err != nil {
		return nil, err
	}
	ok, err := s.payments.TransitionStatus(ctx, &next, p.Status)
	if err != nil {
		return nil, fmt.Errorf("store refund for %s: %w", p.Reference, err)
	}
	if !ok {
		current, err := s.payments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return current, &InvalidTransitionError{From: current.Status, To: payment.StatusRefunded}
	}

	s.publish(ctx, &next, p.Status, "refund")
	return &next, nil
}

// Cancel abandons a pending payment. Only the payer or an admin may cancel.
func (s *Service) Cancel(ctx context.Context, viewer *internal.User, id uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer == nil || (!viewer.IsAdmin() && viewer.Email != p.PayerEmail) {
		return nil, ErrForbidden
	}

	next := *p
	if err := next.MarkCancelled(s.now()); err != nil {
		return nil, err
	}
	ok, err := s.payments.TransitionStatus(ctx, &next, p.Status)
	if err != nil {
		return nil, fmt.Errorf("cancel payment %s: %w", p.Reference, err)
	}
	if !ok {
		current, err := s.payments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return current, &InvalidTransitionError{From: current.Status, To: payment.StatusCancelled}
	}

	s.publish(ctx, &next, p.Status, "cancel")
	return &next, nil
}

// List returns the payments the viewer may see: admins see everything,
// coordinators their own plus their province, everyone else their own.
func (s *Service) List(ctx context.Context, viewer *internal.User, filter ListFilter) ([]Payment, error) {
	if viewer == nil {
		return nil, ErrForbidden
	}
	switch viewer.Role {
	case internal.RoleAdmin:
		filter.Scope = Scope{}
	case internal.RoleCoordinator:
		filter.Scope = Scope{PayerEmail: viewer.Email, Province: viewer.Province}
	default:
		filter.Scope = Scope{PayerEmail: viewer.Email}
	}
	return s.payments.List(ctx, normalize(filter))
}

// Mine returns the viewer's own payments regardless of role.
func (s *Service) Mine(ctx context.Context, viewer *internal.User, filter ListFilter) ([]Payment, error) {
	if viewer == nil {
		return nil, ErrForbidden
	}
	filter.Scope = Scope{PayerEmail: viewer.Email}
	return s.payments.List(ctx, normalize(filter))
}

func (s *Service) Get(ctx context.Context, viewer *internal.User, id uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	visible, err := s.visible(ctx, viewer, p)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *Service) visible(ctx context.Context, viewer *internal.User, p *Payment) (bool, error) {
	if viewer == nil {
		return false, nil
	}
	if viewer.IsAdmin() || viewer.Email == p.PayerEmail {
		return true, nil
	}
	if viewer.Role != internal.RoleCoordinator || viewer.Province == "" {
		return false, nil
	}
	ids, err := p.TicketIDs()
	if err != nil || len(ids) == 0 {
		return false, nil
	}
	tickets, err := s.tickets.GetByIDs(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("load tickets for payment %s: %w", p.Reference, err)
	}
	for _, t := range tickets {
		if t.Province == viewer.Province {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) Logs(ctx context.Context, id uuid.UUID) ([]TransactionLog, error) {
	if _, err := s.payments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListByPayment(ctx, id)
}

func (s *Service) Dashboard(ctx context.Context) (*DashboardStats, error) {
	stats, err := s.stats.Dashboard(ctx, recentSuccessful)
	if err != nil {
		return nil, fmt.Errorf("load dashboard: %w", err)
	}
	if stats.TotalPayments > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalPayments) * 100
	}
	stats.FormattedRevenue = payment.FormatAmount(stats.TotalRevenue, s.cfg.Currency)
	return stats, nil
}

// complete moves a pending payment to success and approves its tickets in
// one transaction. Only the caller whose status swap lands runs the cascade;
// any other caller gets the stored outcome.
func (s *Service) complete(ctx context.Context, p *Payment, d payment.SuccessDetails, trigger string) (*Payment, error) {
	from := p.Status
	next := *p
	now := s.now()
	if err := next.MarkSuccessful(d, now); err != nil {
		return nil, err
	}
	ticketIDs, err := next.TicketIDs()
	if err != nil {
		return nil, fmt.Errorf("payment %s has malformed ticket ids: %w", p.Reference, err)
	}

	won := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.payments.WithTx(tx).TransitionStatus(ctx, &next, from)
		if err != nil || !ok {
			return err
		}
		won = true
		return s.approveTickets(ctx, s.tickets.WithTx(tx), &next, ticketIDs, now)
	})
	if err != nil {
		return nil, fmt.Errorf("complete payment %s: %w", p.Reference, err)
	}

	if !won {
		s.logger.Info("payment settled concurrently", "reference", p.Reference, "trigger", trigger)
		current, err := s.payments.GetByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != payment.StatusSuccess {
			return current, &NotSuccessfulError{Reference: p.Reference, Status: current.Status}
		}
		return current, nil
	}

	s.logger.Info("payment completed",
		"reference", p.Reference,
		"trigger", trigger,
		"tickets", len(ticketIDs))
	s.publish(ctx, &next, from, trigger)
	return &next, nil
}

// fail moves a pending payment to failed. It returns whatever state the
// payment ends up in, which can differ if another caller settled it first.
func (s *Service) fail(ctx context.Context, p *Payment, raw json.RawMessage, trigger string) (*Payment, error) {
	from := p.Status
	next := *p
	if err := next.MarkFailed(raw, s.now()); err != nil {
		return nil, err
	}
	ok, err := s.payments.TransitionStatus(ctx, &next, from)
	if err != nil {
		return nil, fmt.Errorf("fail payment %s: %w", p.Reference, err)
	}
	if !ok {
		return s.payments.GetByID(ctx, p.ID)
	}
	s.logger.Info("payment failed", "reference", p.Reference, "trigger", trigger)
	s.publish(ctx, &next, from, trigger)
	*p = next
	return p, nil
}

func (s *Service) approveTickets(ctx context.Context, tickets ticketpkg.Repository, p *Payment, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if !p.IsBulk() {
		return tickets.Approve(ctx, ids[0], at)
	}
	n, err := tickets.ApproveBatch(ctx, ids, at)
	if err != nil {
		return err
	}
	if n == int64(len(ids)) {
		return nil
	}
	found, err := tickets.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) != len(ids) {
		return fmt.Errorf("approved %d of %d tickets: %w", n, len(ids), ticketpkg.ErrTicketNotFound)
	}
	s.logger.Warn("bulk payment covered tickets that were already approved",
		"reference", p.Reference,
		"approved", n,
		"tickets", len(ids))
	return nil
}

func (s *Service) amountMatches(p *Payment, data gatewaytypes.TransactionData) bool {
	if data.Amount == 0 {
		return true
	}
	expected, err := paymentgateway.ToMinorUnits(p.Amount)
	if err != nil {
		return false
	}
	return expected == data.Amount
}

func (s *Service) publish(ctx context.Context, p *Payment, from payment.Status, trigger string) {
	if s.events == nil {
		return
	}
	eventType, ok := events.EventTypeForStatus(string(p.Status))
	if !ok {
		return
	}
	event := events.NewPaymentStatusChangedEvent(
		eventType,
		p.ID.String(),
		p.Reference,
		p.Amount.StringFixed(2),
		p.Currency,
		string(from),
		string(p.Status),
		ticketIDStrings(p),
		trigger,
	)
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish payment event", "reference", p.Reference, "event", eventType, "error", err)
	}
}

func ticketIDStrings(p *Payment) []string {
	ids, err := p.TicketIDs()
	if err != nil {
		return p.Metadata.Data().TicketIDs
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func successDetails(data gatewaytypes.TransactionData, raw json.RawMessage) payment.SuccessDetails {
	return payment.SuccessDetails{
		GatewayReference:  data.Reference,
		AuthorizationCode: data.Authorization.AuthorizationCode,
		Channel:           data.Channel,
		PaymentMethod:     data.Authorization.Channel,
		Raw:               raw,
	}
}

func normalize(f ListFilter) ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
