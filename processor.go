package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/x402arcade/x402-go/noncestore"
)

// ProcessRequest is the transport-neutral view of an inbound request: the
// raw X-Payment header value (empty when absent) and the resource path
// being paid for.
type ProcessRequest struct {
	Header   string
	Resource string
}

// Response is a fully rendered HTTP response: status, JSON body and
// protocol headers. Adapters write it verbatim.
type Response struct {
	Status int
	Body   []byte
	Header map[string]string
}

// Outcome is the tagged result of processing one request. Exactly one arm
// is set: Payment (continue to the protected resource) or Response (stop
// and reply). ReceiptHeader accompanies Payment with the encoded
// settlement receipt for the X-Payment-Response header.
type Outcome struct {
	Payment       *PaymentInfo
	ReceiptHeader string
	Response      *Response
}

// Continue reports whether the protected resource should be served.
func (o Outcome) Continue() bool { return o.Payment != nil }

// Processor runs the payment pipeline. Requests share nothing but the
// nonce store, so one Processor serves any number of concurrent requests.
type Processor struct {
	cfg            Config
	requiredAmount decimal.Decimal
	network        string
	metrics        *metrics
	log            *zap.Logger

	// now is the pipeline clock, swapped in tests.
	now func() time.Time
}

// NewProcessor validates the configuration and builds a pipeline instance.
func NewProcessor(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid x402 configuration: %w", err)
	}
	cfg = cfg.withDefaults()

	required, err := decimal.NewFromString(cfg.PaymentAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid x402 configuration: %w", err)
	}

	return &Processor{
		cfg:            cfg,
		requiredAmount: required,
		network:        fmt.Sprintf("eip155:%d", cfg.ChainID),
		metrics:        newMetrics(cfg.Registry),
		log:            cfg.Logger,
		now:            time.Now,
	}, nil
}

// Config returns the validated configuration with defaults applied.
func (p *Processor) Config() Config { return p.cfg }

// Process runs the full pipeline for one request. Every stage either
// advances or terminates with an error response; only a settled payment
// continues to the protected resource. Panics are normalized into
// INTERNAL_ERROR so a handler bug never leaks a stack trace to the client.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (out Outcome) {
	attempt := uuid.NewString()
	log := p.log.With(zap.String("attemptId", attempt), zap.String("resource", req.Resource))

	defer func() {
		if r := recover(); r != nil {
			log.Error("payment pipeline panic", zap.Any("panic", r))
			out = p.reject(log, WrapValue(r))
		}
	}()

	if req.Header == "" {
		if p.cfg.Debug {
			log.Debug("no payment header, responding 402")
		}
		p.metrics.observeRejected(CodeMissingHeader)
		return p.paymentRequired(req.Resource)
	}

	hdr, verr := DecodePaymentHeader(req.Header)
	if verr != nil {
		return p.reject(log, verr)
	}

	payload := HeaderToPayload(hdr)
	log = log.With(zap.String("payer", payload.From), zap.String("nonce", payload.Nonce))

	if result := ValidatePaymentPayload(payload); !result.Valid {
		return p.reject(log, FromValidationErrors(result.Errors))
	}
	if err := p.checkAmount(payload); err != nil {
		return p.reject(log, err)
	}
	if err := p.checkRecipient(payload); err != nil {
		return p.reject(log, err)
	}
	if err := p.checkWindow(payload); err != nil {
		return p.reject(log, err)
	}
	if err := p.checkNonceFresh(ctx, payload); err != nil {
		return p.reject(log, err)
	}

	sreq := NewSettlementRequest(payload, p.cfg.ChainID, p.cfg.TokenAddress, req.Header, req.Resource)
	if err := p.verify(ctx, log, sreq); err != nil {
		return p.reject(log, err)
	}

	settlement, err := p.settle(ctx, log, sreq)
	if err != nil {
		return p.reject(log, err)
	}

	if err := p.commit(ctx, payload, settlement); err != nil {
		return p.reject(log, err)
	}

	info := NewPaymentInfo(payload, p.cfg.ChainID, p.cfg.TokenAddress, p.cfg.TokenDecimals, settlement)
	p.metrics.observeSettled()
	log.Info("payment settled",
		zap.String("value", payload.Value),
		zap.String("transactionHash", settlement.TransactionHash),
		zap.Uint64("blockNumber", settlement.BlockNumber))

	return Outcome{
		Payment:       info,
		ReceiptHeader: encodeReceipt(info),
	}
}

// checkAmount compares required and paid amounts as arbitrary-precision
// integers. Overpayment passes.
func (p *Processor) checkAmount(payload *PaymentPayload) Error {
	paid, err := decimal.NewFromString(payload.Value)
	if err != nil {
		return TypeMismatch("value", "positive integer as a decimal string", payload.Value)
	}
	if paid.LessThan(p.requiredAmount) {
		return AmountMismatch(p.cfg.PaymentAmount, payload.Value)
	}
	return nil
}

// checkRecipient compares the payment target to the configured payTo
// address, case-insensitively.
func (p *Processor) checkRecipient(payload *PaymentPayload) Error {
	if !SameAddress(payload.To, p.cfg.PayTo) {
		return RecipientMismatch(p.cfg.PayTo, payload.To)
	}
	return nil
}

// checkWindow evaluates the validity window against wall-clock time with
// the protocol's clock skew tolerance.
func (p *Processor) checkWindow(payload *PaymentPayload) Error {
	now := p.now()
	tolerance := int64(ClockSkewTolerance / time.Second)

	validAfter, err := strconv.ParseInt(payload.ValidAfter, 10, 64)
	if err != nil {
		return InvalidTimestamp("validAfter", payload.ValidAfter)
	}
	validBefore, err := strconv.ParseInt(payload.ValidBefore, 10, 64)
	if err != nil {
		return InvalidTimestamp("validBefore", payload.ValidBefore)
	}

	if now.Unix()+tolerance < validAfter {
		return AuthorizationNotYetValid(payload.ValidAfter, now)
	}
	if now.Unix()-tolerance >= validBefore {
		return AuthorizationExpired(payload.ValidBefore, now)
	}

	if p.cfg.MaxAuthorizationAge > 0 {
		age := now.Unix() - validAfter
		if age > int64(p.cfg.MaxAuthorizationAge/time.Second) {
			e := AuthorizationExpired(payload.ValidBefore, now)
			e.ProtocolError = e.ProtocolError.WithDetails("maxAuthorizationAgeSeconds", int64(p.cfg.MaxAuthorizationAge/time.Second))
			return e
		}
	}
	if p.cfg.MinValidityWindow > 0 {
		remaining := validBefore - now.Unix()
		if remaining < int64(p.cfg.MinValidityWindow/time.Second) {
			e := AuthorizationExpired(payload.ValidBefore, now)
			e.ProtocolError = e.ProtocolError.WithDetails("minValidityWindowSeconds", int64(p.cfg.MinValidityWindow/time.Second))
			return e
		}
	}
	return nil
}

// checkNonceFresh rejects nonces that already settled. The authoritative
// check is the atomic mark at commit time; this early check just spares
// the facilitator a doomed round trip.
func (p *Processor) checkNonceFresh(ctx context.Context, payload *PaymentPayload) Error {
	used, err := p.cfg.Nonces.IsUsed(ctx, payload.Nonce)
	if err != nil {
		return Wrap(err)
	}
	if used {
		return NonceAlreadyUsed(payload.Nonce)
	}
	return nil
}

// verify asks the facilitator to check the signature and payer balance.
func (p *Processor) verify(ctx context.Context, log *zap.Logger, sreq *SettlementRequest) Error {
	start := p.now()
	result, err := p.cfg.Facilitator.Verify(ctx, sreq)
	p.metrics.observeFacilitator("verify", p.now().Sub(start))
	if err != nil {
		return Wrap(err)
	}
	if !result.IsValid {
		if p.cfg.Debug {
			log.Debug("facilitator rejected verification", zap.String("reason", result.InvalidReason))
		}
		return InvalidSignature(result.InvalidReason)
	}
	return nil
}

// settle executes the transfer through the facilitator. A 2xx response
// with success=false is a business rejection and is remapped through the
// taxonomy.
func (p *Processor) settle(ctx context.Context, log *zap.Logger, sreq *SettlementRequest) (*SettlementResponse, Error) {
	start := p.now()
	settlement, err := p.cfg.Facilitator.Settle(ctx, sreq)
	p.metrics.observeFacilitator("settle", p.now().Sub(start))
	if err != nil {
		return nil, Wrap(err)
	}
	if !settlement.Success {
		if p.cfg.Debug {
			log.Debug("facilitator rejected settlement",
				zap.String("errorCode", settlement.ErrorCode),
				zap.String("errorMessage", settlement.ErrorMessage))
		}
		return nil, FacilitatorRejection(settlement.ErrorCode, settlement.ErrorMessage)
	}
	return settlement, nil
}

// commit records the nonce after successful settlement. The store's atomic
// mark guarantees that when two concurrent requests raced the same nonce
// past the freshness check, only one of them completes the pipeline.
func (p *Processor) commit(ctx context.Context, payload *PaymentPayload, settlement *SettlementResponse) Error {
	err := p.cfg.Nonces.MarkUsed(ctx, payload.Nonce, noncestore.Usage{
		From:            payload.From,
		TransactionHash: settlement.TransactionHash,
		UsedAt:          settlement.SettledAt,
	})
	if err == noncestore.ErrNonceUsed {
		return NonceAlreadyUsed(payload.Nonce)
	}
	if err != nil {
		return Wrap(err)
	}
	return nil
}

// reject renders an error outcome and records it.
func (p *Processor) reject(log *zap.Logger, err Error) Outcome {
	p.metrics.observeRejected(err.Code())
	if p.cfg.Debug {
		log.Debug("payment rejected",
			zap.String("code", string(err.Code())),
			zap.String("status", describeStatus(err.HTTPStatus())),
			zap.String("reason", err.Error()))
	}
	body, merr := json.Marshal(err.Envelope())
	if merr != nil {
		body = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"failed to encode error response"}}`)
	}
	return Outcome{Response: &Response{
		Status: err.HTTPStatus(),
		Body:   body,
		Header: map[string]string{"Content-Type": "application/json"},
	}}
}

// paymentRequired renders the 402 response, including the base64 body copy
// in X-Payment-Required and the protocol version header.
func (p *Processor) paymentRequired(resource string) Outcome {
	body := &PaymentRequiredResponse{
		X402Version:       ProtocolVersion,
		Amount:            p.cfg.PaymentAmount,
		Currency:          p.cfg.Currency,
		PayTo:             p.cfg.PayTo,
		ChainID:           p.cfg.ChainID,
		TokenAddress:      p.cfg.TokenAddress,
		Description:       p.cfg.Description,
		Resource:          resource,
		MaxTimeoutSeconds: p.cfg.MaxTimeoutSeconds,
		Accepts: []AcceptOption{{
			Scheme:  SchemeExact,
			Network: p.network,
			Asset: Asset{
				Address:  p.cfg.TokenAddress,
				Symbol:   p.cfg.Currency,
				Name:     p.cfg.TokenName,
				Decimals: p.cfg.TokenDecimals,
			},
		}},
	}

	headers := map[string]string{
		"Content-Type":       "application/json",
		HeaderPaymentVersion: ProtocolVersion,
	}
	if encoded, err := EncodePaymentRequired(body); err == nil {
		headers[HeaderPaymentRequired] = encoded
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return p.reject(p.log, Wrap(err))
	}
	return Outcome{Response: &Response{
		Status: http.StatusPaymentRequired,
		Body:   raw,
		Header: headers,
	}}
}

// encodeReceipt renders the X-Payment-Response header value.
func encodeReceipt(info *PaymentInfo) string {
	receipt := PaymentReceipt{
		Success:         true,
		TransactionHash: info.TransactionHash,
		BlockNumber:     info.BlockNumber,
		Payer:           info.Payer,
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}
