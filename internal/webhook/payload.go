package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"salesops_backend/platform/sanitize"
	"salesops_backend/platform/validator"

	"github.com/stripe/stripe-go/v83"
)

// Payload kinds.
const (
	KindAsaas        = "asaas"
	KindStripe       = "stripe"
	KindGoogleLead   = "google_lead"
	KindFormLead     = "form_lead"
	KindUnrecognized = "unrecognized"
)

// Asaas event types.
const (
	AsaasPaymentReceived  = "PAYMENT_RECEIVED"
	AsaasPaymentConfirmed = "PAYMENT_CONFIRMED"
	AsaasPaymentRefunded  = "PAYMENT_REFUNDED"
)

// Stripe event types.
const (
	StripeCheckoutCompleted      = "checkout.session.completed"
	StripePaymentIntentSucceeded = "payment_intent.succeeded"
	StripeChargeRefunded         = "charge.refunded"
)

const asaasDateLayout = "2006-01-02"

// Payload is one of the known inbound shapes, or Unrecognized.
type Payload interface {
	Kind() string
	EventType() string
	// DedupeKey is empty when the delivery is not deduplicated.
	DedupeKey() string
}

// ValidationError reports a payload rejected at the boundary.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Fields, ", ")
}

// Sale is the provider-neutral view of a commerce payload. PaymentKey names
// the underlying payment, so every event reporting the same payment maps to
// one transaction.
type Sale struct {
	PaymentKey         string
	Provider           string
	Status             string
	ExternalCustomerID string
	Name               string
	Email              string
	Phone              string
	ProductName        string
	GrossValue         float64
	NetValue           float64
	SaleDate           time.Time
}

// printable clears the fields that end up in text columns or queries of
// control characters and invalid UTF-8.
func (s Sale) printable() Sale {
	s.PaymentKey = sanitize.Printable(s.PaymentKey)
	s.ExternalCustomerID = sanitize.Printable(s.ExternalCustomerID)
	s.Name = sanitize.Printable(s.Name)
	s.Email = sanitize.Printable(s.Email)
	s.Phone = sanitize.Printable(s.Phone)
	s.ProductName = sanitize.Printable(s.ProductName)
	return s
}

// SaleSource is implemented by payloads that describe a payment.
type SaleSource interface {
	Payload
	// Sale returns false when the event type carries no sale.
	Sale() (Sale, bool, error)
}

// LeadSource is implemented by payloads that describe a captured lead.
type LeadSource interface {
	Payload
	LeadFields() map[string]string
}

// ---- Asaas ----

// AsaasPayload is the Asaas payment notification envelope.
type AsaasPayload struct {
	Event   string       `json:"event" validate:"notblank"`
	Payment AsaasPayment `json:"payment"`
}

// AsaasPayment is the payment object of an Asaas notification.
type AsaasPayment struct {
	ID            string        `json:"id" validate:"notblank"`
	Value         float64       `json:"value" validate:"gte=0"`
	NetValue      float64       `json:"netValue"`
	Description   string        `json:"description"`
	Status        string        `json:"status"`
	Customer      AsaasCustomer `json:"customer"`
	PaymentDate   string        `json:"paymentDate"`
	ConfirmedDate string        `json:"confirmedDate"`
	DateCreated   string        `json:"dateCreated"`
}

// AsaasCustomer is sent either as a customer id string or as an expanded object.
type AsaasCustomer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	MobilePhone string `json:"mobilePhone"`
}

func (c *AsaasCustomer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.ID)
	}
	type plain AsaasCustomer
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = AsaasCustomer(p)
	return nil
}

func (p AsaasPayload) Kind() string      { return KindAsaas }
func (p AsaasPayload) EventType() string { return p.Event }

func (p AsaasPayload) DedupeKey() string {
	switch p.Event {
	case AsaasPaymentReceived, AsaasPaymentConfirmed:
		return "asaas_" + p.Payment.ID
	case AsaasPaymentRefunded:
		return "asaas_" + p.Payment.ID + "_refunded"
	}
	return ""
}

func (p AsaasPayload) Sale() (Sale, bool, error) {
	var status string
	switch p.Event {
	case AsaasPaymentReceived, AsaasPaymentConfirmed:
		status = TransactionConfirmed
	case AsaasPaymentRefunded:
		status = TransactionRefunded
	default:
		return Sale{}, false, nil
	}

	phone := p.Payment.Customer.MobilePhone
	if phone == "" {
		phone = p.Payment.Customer.Phone
	}
	net := p.Payment.NetValue
	if net == 0 {
		net = p.Payment.Value
	}

	return Sale{
		PaymentKey:         p.DedupeKey(),
		Provider:           SourceAsaas,
		Status:             status,
		ExternalCustomerID: p.Payment.Customer.ID,
		Name:               p.Payment.Customer.Name,
		Email:              p.Payment.Customer.Email,
		Phone:              phone,
		ProductName:        p.Payment.Description,
		GrossValue:         p.Payment.Value,
		NetValue:           net,
		SaleDate:           asaasSaleDate(p.Payment),
	}, true, nil
}

func asaasSaleDate(p AsaasPayment) time.Time {
	for _, raw := range []string{p.ConfirmedDate, p.PaymentDate, p.DateCreated} {
		if t, err := time.Parse(asaasDateLayout, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// ---- Stripe ----

// StripePayload wraps a Stripe event.
type StripePayload struct {
	Event stripe.Event
}

func (p StripePayload) Kind() string      { return KindStripe }
func (p StripePayload) EventType() string { return string(p.Event.Type) }

func (p StripePayload) DedupeKey() string {
	switch p.EventType() {
	case StripeCheckoutCompleted, StripePaymentIntentSucceeded, StripeChargeRefunded:
		return "stripe_" + p.Event.ID
	}
	return ""
}

func (p StripePayload) Sale() (Sale, bool, error) {
	if p.Event.Data == nil {
		return Sale{}, false, nil
	}
	created := time.Unix(p.Event.Created, 0).UTC()

	switch p.EventType() {
	case StripeCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(p.Event.Data.Raw, &session); err != nil {
			return Sale{}, false, fmt.Errorf("decode checkout session: %w", err)
		}
		sale := Sale{
			PaymentKey:  stripePaymentKey(session.PaymentIntent, session.ID),
			Provider:    SourceStripe,
			Status:      TransactionConfirmed,
			ProductName: session.Metadata["product_name"],
			GrossValue:  cents(session.AmountTotal),
			NetValue:    cents(session.AmountTotal),
			SaleDate:    created,
		}
		if session.CustomerDetails != nil {
			sale.Name = session.CustomerDetails.Name
			sale.Email = session.CustomerDetails.Email
			sale.Phone = session.CustomerDetails.Phone
		}
		return sale, true, nil

	case StripePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(p.Event.Data.Raw, &intent); err != nil {
			return Sale{}, false, fmt.Errorf("decode payment intent: %w", err)
		}
		product := intent.Metadata["product_name"]
		if product == "" {
			product = intent.Description
		}
		return Sale{
			PaymentKey:  stripePaymentKey(&intent, intent.ID),
			Provider:    SourceStripe,
			Status:      TransactionConfirmed,
			Email:       intent.ReceiptEmail,
			ProductName: product,
			GrossValue:  cents(intent.Amount),
			NetValue:    cents(intent.AmountReceived),
			SaleDate:    created,
		}, true, nil

	case StripeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(p.Event.Data.Raw, &charge); err != nil {
			return Sale{}, false, fmt.Errorf("decode charge: %w", err)
		}
		return Sale{
			PaymentKey:  stripePaymentKey(charge.PaymentIntent, charge.ID) + "_refunded",
			Provider:    SourceStripe,
			Status:      TransactionRefunded,
			Email:       charge.ReceiptEmail,
			ProductName: charge.Description,
			GrossValue:  cents(charge.AmountRefunded),
			NetValue:    cents(charge.AmountRefunded),
			SaleDate:    created,
		}, true, nil
	}
	return Sale{}, false, nil
}

// stripePaymentKey keys a Stripe sale by its PaymentIntent. Objects without
// one (free or setup-mode sessions) fall back to their own id.
func stripePaymentKey(intent *stripe.PaymentIntent, fallbackID string) string {
	if intent != nil && intent.ID != "" {
		return "stripe_" + intent.ID
	}
	return "stripe_" + fallbackID
}

func cents(amount int64) float64 {
	return float64(amount) / 100
}

// ---- Leads ----

// GoogleLeadPayload is a Google Ads Lead Form delivery.
type GoogleLeadPayload struct {
	GoogleKey      string             `json:"google_key"`
	LeadID         string             `json:"lead_id" validate:"notblank"`
	CampaignID     int64              `json:"campaign_id"`
	FormID         int64              `json:"form_id"`
	GCLID          string             `json:"gclid"`
	UserColumnData []GoogleColumnData `json:"user_column_data"`
	IsTest         bool               `json:"is_test"`
	CampaignName   string             `json:"campaign_name"`
	FormName       string             `json:"form_name"`
}

// GoogleColumnData is one answered form field.
type GoogleColumnData struct {
	ColumnID    string `json:"column_id"`
	StringValue string `json:"string_value"`
	ColumnName  string `json:"column_name"`
}

func (p GoogleLeadPayload) Kind() string      { return KindGoogleLead }
func (p GoogleLeadPayload) EventType() string { return "google_lead_form" }
func (p GoogleLeadPayload) DedupeKey() string { return "google_" + p.LeadID }

// LeadFields flattens the column data into payload keys.
func (p GoogleLeadPayload) LeadFields() map[string]string {
	fields := map[string]string{"lead_id": p.LeadID}
	for _, col := range p.UserColumnData {
		value := strings.TrimSpace(sanitize.Printable(col.StringValue))
		if value == "" {
			continue
		}
		name := col.ColumnName
		if name == "" {
			name = col.ColumnID
		}
		if key := normalizeGoogleFieldName(name); key != "" {
			fields[key] = value
		}
	}
	if p.GCLID != "" {
		fields["gclid"] = p.GCLID
	}
	if p.CampaignID != 0 {
		fields["campaign_id"] = strconv.FormatInt(p.CampaignID, 10)
	}
	if p.CampaignName != "" {
		fields["campaign_name"] = p.CampaignName
	}
	return fields
}

// FormLeadPayload is a flat JSON form posted to a lead endpoint.
type FormLeadPayload struct {
	Slug   string
	Fields map[string]string
}

func (p FormLeadPayload) Kind() string                  { return KindFormLead }
func (p FormLeadPayload) EventType() string             { return "form_submission" }
func (p FormLeadPayload) LeadFields() map[string]string { return p.Fields }

// DedupeKey hashes the submitted fields, so only byte-for-byte resubmissions collapse.
func (p FormLeadPayload) DedupeKey() string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(p.Fields[k]))
		h.Write([]byte{0})
	}
	return "lead_" + p.Slug + "_" + hex.EncodeToString(h.Sum(nil))
}

// Unrecognized is a body that matched no known shape.
type Unrecognized struct {
	Source string
	Reason string
}

func (p Unrecognized) Kind() string      { return KindUnrecognized }
func (p Unrecognized) EventType() string { return "unrecognized" }
func (p Unrecognized) DedupeKey() string { return "" }

// ---- Decoding ----

// Decoder turns raw bodies into payloads and validates them.
type Decoder struct {
	val *validator.Validator
}

// NewDecoder creates a decoder.
func NewDecoder(val *validator.Validator) *Decoder {
	return &Decoder{val: val}
}

// Decode dispatches on the event source. endpoint is required for lead sources.
// An undecodable body yields Unrecognized together with a *ValidationError.
func (d *Decoder) Decode(source string, body []byte, endpoint *Endpoint) (Payload, error) {
	switch {
	case source == SourceAsaas:
		return d.decodeAsaas(body)
	case source == SourceStripe:
		return d.decodeStripe(body)
	case strings.HasPrefix(source, SourceLeadPrefix):
		if endpoint == nil {
			return nil, fmt.Errorf("decode %s: endpoint required", source)
		}
		return d.decodeLead(body, *endpoint)
	}
	return Unrecognized{Source: source, Reason: "unknown source"}, &ValidationError{Message: "unknown webhook source"}
}

func (d *Decoder) decodeAsaas(body []byte) (Payload, error) {
	var p AsaasPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return unrecognized(SourceAsaas, err)
	}
	if err := d.val.Struct(p); err != nil {
		return p, &ValidationError{Message: "missing required fields", Fields: validator.FieldNames(err)}
	}
	return p, nil
}

type stripeEnvelope struct {
	ID   string `json:"id" validate:"notblank"`
	Type string `json:"type" validate:"notblank"`
}

func (d *Decoder) decodeStripe(body []byte) (Payload, error) {
	var env stripeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return unrecognized(SourceStripe, err)
	}
	if err := d.val.Struct(env); err != nil {
		return Unrecognized{Source: SourceStripe, Reason: "missing event id or type"},
			&ValidationError{Message: "missing required fields", Fields: validator.FieldNames(err)}
	}

	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return unrecognized(SourceStripe, err)
	}
	return StripePayload{Event: event}, nil
}

func (d *Decoder) decodeLead(body []byte, endpoint Endpoint) (Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return unrecognized(endpoint.Source(), err)
	}

	var p LeadSource
	if _, ok := raw["user_column_data"]; ok {
		var g GoogleLeadPayload
		if err := json.Unmarshal(body, &g); err != nil {
			return unrecognized(endpoint.Source(), err)
		}
		if err := d.val.Struct(g); err != nil {
			return g, &ValidationError{Message: "missing required fields", Fields: validator.FieldNames(err)}
		}
		p = g
	} else {
		p = FormLeadPayload{Slug: endpoint.Slug, Fields: flattenFields(raw)}
	}

	if missing := missingFields(p.LeadFields(), endpoint.RequiredFields); len(missing) > 0 {
		return p, &ValidationError{Message: "missing required fields", Fields: missing}
	}
	return p, nil
}

func unrecognized(source string, err error) (Payload, error) {
	return Unrecognized{Source: source, Reason: err.Error()}, &ValidationError{Message: "invalid JSON payload"}
}

// flattenFields keeps scalar values as text and nested values as compact JSON.
// Control characters are dropped from keys and text values.
func flattenFields(raw map[string]json.RawMessage) map[string]string {
	fields := make(map[string]string, len(raw))
	for rawKey, value := range raw {
		key := sanitize.Printable(rawKey)
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			continue
		}
		switch v := decoded.(type) {
		case nil:
			continue
		case string:
			fields[key] = strings.TrimSpace(sanitize.Printable(v))
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			fields[key] = strconv.FormatBool(v)
		default:
			var buf bytes.Buffer
			if err := json.Compact(&buf, value); err == nil {
				fields[key] = buf.String()
			}
		}
	}
	return fields
}

func missingFields(fields map[string]string, required []string) []string {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
