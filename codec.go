package x402

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NumericString is a bigint-like wire field. It accepts both JSON strings
// and JSON numbers (including scientific notation) and normalizes numeric
// input to a canonical decimal string with no exponent and no precision
// loss. Non-numeric input is kept verbatim so structural validation can
// report it.
type NumericString string

func (n *NumericString) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = str
	}
	*n = Canonical(s)
	return nil
}

func (n NumericString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(n))
}

func (n NumericString) String() string {
	return string(n)
}

// Canonical normalizes a numeric literal to its plain decimal form.
// "1e4" becomes "10000"; values that do not parse are returned unchanged.
func Canonical(s string) NumericString {
	if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
		return NumericString(d.String())
	}
	return NumericString(s)
}

// DecodePaymentHeader decodes an X-Payment header value. Both standard and
// URL-safe base64 are accepted, with missing padding repaired. The decoded
// JSON must carry x402Version "1", scheme "exact", and a payload whose
// message includes from, to and value.
func DecodePaymentHeader(raw string) (*PaymentHeader, Error) {
	decoded, err := decodeBase64(raw)
	if err != nil {
		return nil, InvalidJSON("payment header is not valid base64")
	}

	var hdr PaymentHeader
	if err := json.Unmarshal(decoded, &hdr); err != nil {
		return nil, InvalidJSON("payment header is not valid JSON")
	}

	if v := hdr.X402Version.String(); v != ProtocolVersion {
		return nil, VersionMismatch(v)
	}
	if hdr.Scheme != SchemeExact {
		return nil, SchemeMismatch(hdr.Scheme)
	}
	if hdr.Payload == nil || hdr.Payload.Message == nil {
		return nil, MissingField("payload")
	}

	msg := hdr.Payload.Message
	switch {
	case msg.From == "":
		return nil, MissingField("payload.message.from")
	case msg.To == "":
		return nil, MissingField("payload.message.to")
	case msg.Value == "":
		return nil, MissingField("payload.message.value")
	}

	return &hdr, nil
}

// decodeBase64 decodes standard or URL-safe base64, repairing missing
// padding. URL-safe input is detected by the presence of '-' or '_'.
func decodeBase64(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.ContainsAny(s, "-_") {
		s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	}
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(s)
}

// HeaderToPayload flattens the nested wire shape into a PaymentPayload.
// Together with PayloadToHeader it forms a lossless round trip.
func HeaderToPayload(hdr *PaymentHeader) *PaymentPayload {
	msg := hdr.Payload.Message
	v, _ := strconv.Atoi(hdr.Payload.V.String())
	return &PaymentPayload{
		Version:     hdr.X402Version.String(),
		Scheme:      hdr.Scheme,
		Network:     hdr.Network,
		From:        msg.From,
		To:          msg.To,
		Value:       msg.Value.String(),
		ValidAfter:  msg.ValidAfter.String(),
		ValidBefore: msg.ValidBefore.String(),
		Nonce:       msg.Nonce,
		V:           v,
		R:           hdr.Payload.R,
		S:           hdr.Payload.S,
	}
}

// PayloadToHeader rebuilds the nested wire shape from a flat payload.
func PayloadToHeader(p *PaymentPayload) *PaymentHeader {
	return &PaymentHeader{
		X402Version: NumericString(p.Version),
		Scheme:      p.Scheme,
		Network:     p.Network,
		Payload: &SignedAuthorization{
			Message: &AuthorizationMessage{
				From:        p.From,
				To:          p.To,
				Value:       NumericString(p.Value),
				ValidAfter:  NumericString(p.ValidAfter),
				ValidBefore: NumericString(p.ValidBefore),
				Nonce:       p.Nonce,
			},
			V: NumericString(strconv.Itoa(p.V)),
			R: p.R,
			S: p.S,
		},
	}
}

// EncodePaymentHeader encodes a wire header to its base64 X-Payment form.
// Used by clients and tests.
func EncodePaymentHeader(hdr *PaymentHeader) (string, error) {
	data, err := json.Marshal(hdr)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodePaymentRequired encodes the 402 body for the X-Payment-Required
// header.
func EncodePaymentRequired(resp *PaymentRequiredResponse) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequired decodes an X-Payment-Required header value. Used by
// clients to read payment requirements from a 402 response.
func DecodePaymentRequired(raw string) (*PaymentRequiredResponse, error) {
	decoded, err := decodeBase64(raw)
	if err != nil {
		return nil, err
	}
	var resp PaymentRequiredResponse
	if err := json.Unmarshal(decoded, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NewSettlementRequest builds the facilitator request from an accepted
// payload. The original header and resource path travel along for audit.
func NewSettlementRequest(p *PaymentPayload, chainID int64, tokenAddress, rawHeader, resource string) *SettlementRequest {
	return &SettlementRequest{
		Authorization: Authorization{
			From:        p.From,
			To:          p.To,
			Value:       p.Value,
			ValidAfter:  p.ValidAfter,
			ValidBefore: p.ValidBefore,
			Nonce:       p.Nonce,
			V:           p.V,
			R:           p.R,
			S:           p.S,
		},
		ChainID:       chainID,
		TokenAddress:  tokenAddress,
		PaymentHeader: rawHeader,
		Resource:      resource,
	}
}

// NewPaymentInfo derives the context payload for a settled payment.
func NewPaymentInfo(p *PaymentPayload, chainID int64, tokenAddress string, tokenDecimals int, settlement *SettlementResponse) *PaymentInfo {
	settledAt := settlement.SettledAt
	return &PaymentInfo{
		Payer:           p.From,
		Recipient:       p.To,
		Amount:          p.Value,
		AmountDecimal:   FormatAmount(p.Value, tokenDecimals),
		TokenAddress:    tokenAddress,
		ChainID:         chainID,
		Nonce:           p.Nonce,
		TransactionHash: settlement.TransactionHash,
		BlockNumber:     settlement.BlockNumber,
		SettledAt:       &settledAt,
	}
}

// NewPendingPaymentInfo derives the context payload for a payment that has
// been accepted but not yet settled.
func NewPendingPaymentInfo(p *PaymentPayload, chainID int64, tokenAddress string, tokenDecimals int, receivedAt time.Time) *PaymentInfo {
	return &PaymentInfo{
		Payer:         p.From,
		Recipient:     p.To,
		Amount:        p.Value,
		AmountDecimal: FormatAmount(p.Value, tokenDecimals),
		TokenAddress:  tokenAddress,
		ChainID:       chainID,
		Nonce:         p.Nonce,
		ReceivedAt:    &receivedAt,
	}
}

// FormatAmount converts a smallest-unit integer amount to its decimal
// display form: FormatAmount("10000", 6) == "0.01".
func FormatAmount(value string, tokenDecimals int) string {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return value
	}
	return d.Shift(int32(-tokenDecimals)).String()
}
