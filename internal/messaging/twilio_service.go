package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without replying inline; replies go out through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioOpts configures a TwilioService.
type TwilioOpts struct {
	Validator  *twiliowhatsapp.SignatureValidator
	WebhookURL string // public URL Twilio posts to; derived from the request when empty
}

// TwilioOption defines a configuration option for TwilioService.
type TwilioOption func(*TwilioOpts)

// WithSignatureValidator rejects webhook requests whose signature does not verify.
func WithSignatureValidator(v *twiliowhatsapp.SignatureValidator) TwilioOption {
	return func(o *TwilioOpts) {
		o.Validator = v
	}
}

// WithWebhookURL sets the public webhook URL used for signature validation.
func WithWebhookURL(u string) TwilioOption {
	return func(o *TwilioOpts) {
		o.WebhookURL = u
	}
}

// TwilioService implements the Service interface using the Twilio API.
type TwilioService struct {
	client twiliowhatsapp.Sender // real Twilio client or MockClient
	opts   TwilioOpts
	events *eventChannels
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewTwilioService invoked", "signature_validation", cfg.Validator != nil)
	return &TwilioService{
		client: client,
		opts:   cfg,
		events: newEventChannels("TwilioService"),
	}
}

// ValidateAndCanonicalizeRecipient removes the "whatsapp:" prefix and all
// non-numeric characters, and requires at least MinRecipientDigits digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalPhone(strings.TrimPrefix(recipient, "whatsapp:"))
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; inbound messages arrive through TwilioWebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the channels. Later webhook deliveries are dropped.
func (s *TwilioService) Stop() error {
	slog.Info("TwilioService Stop invoked")
	s.events.close()
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.events.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("TwilioService SendMessage error", "error", err, "to", canonicalTo)
		s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		return err
	}
	s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel for sent message receipts.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns the channel for incoming messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.events.responses
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them as models.Response into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService webhook form parse failed", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.opts.Validator != nil {
		fullURL := s.webhookURL(r)
		if !s.opts.Validator.Validate(fullURL, r.PostForm, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService webhook signature rejected", "url", fullURL)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	body := r.PostFormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("TwilioService webhook invalid sender", "error", err, "from", from)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	slog.Info("TwilioService inbound message", "from", canonical, "body_length", len(body))
	if !s.events.emitResponse(models.Response{
		From:      canonical,
		Body:      body,
		Time:      time.Now().Unix(),
		MessageID: r.PostFormValue("MessageSid"),
	}) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// webhookURL is the URL Twilio signed: the configured public URL, or one rebuilt
// from the request for deployments behind a proxy that sets X-Forwarded-Proto.
func (s *TwilioService) webhookURL(r *http.Request) string {
	if s.opts.WebhookURL != "" {
		return s.opts.WebhookURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
