package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SupportPipe/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPhone(t *testing.T) {
	got, err := canonicalPhone("+7 (912) 345-67-89")
	require.NoError(t, err)
	assert.Equal(t, "79123456789", got)

	_, err = canonicalPhone("")
	assert.ErrorIs(t, err, models.ErrEmptyRecipient)
	_, err = canonicalPhone("abc")
	assert.Error(t, err)
	_, err = canonicalPhone("12345")
	assert.Error(t, err)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	require.NoError(t, svc.SendMessage(context.Background(), "+1 234 567 890", "hello"))

	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "1234567890", sent[0].To)

	select {
	case receipt := <-svc.Receipts():
		assert.Equal(t, "1234567890", receipt.To)
		assert.Equal(t, models.MessageStatusSent, receipt.Status)
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_Failure(t *testing.T) {
	mock := whatsapp.NewMockClient()
	mock.Err = errors.New("offline")
	svc := NewWhatsAppService(mock)
	assert.Error(t, svc.SendMessage(context.Background(), "1234567890", "hello"))
	receipt := <-svc.Receipts()
	assert.Equal(t, models.MessageStatusFailed, receipt.Status)
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	_, ok := <-svc.Receipts()
	assert.False(t, ok, "receipts channel should be closed")
	_, ok = <-svc.Responses()
	assert.False(t, ok, "responses channel should be closed")

	assert.ErrorIs(t, svc.SendMessage(context.Background(), "1234567890", "x"), ErrServiceStopped)
}

func TestResponseFromText(t *testing.T) {
	at := time.Unix(1700000000, 0)
	resp, ok := responseFromText("79123456789", "не включается", at, "MSG1")
	require.True(t, ok)
	assert.Equal(t, models.Response{From: "79123456789", Body: "не включается", Time: 1700000000, MessageID: "MSG1"}, resp)

	_, ok = responseFromText("79123456789", "", at, "MSG2")
	assert.False(t, ok)
}

func TestTwilioService_Canonicalize(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	got, err := svc.ValidateAndCanonicalizeRecipient("whatsapp:+14155550100")
	require.NoError(t, err)
	assert.Equal(t, "14155550100", got)
}

func postWebhook(t *testing.T, svc *TwilioService, form url.Values, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://example.com/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(TwilioSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)
	return rec
}

func TestTwilioWebhook_EmitsResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postWebhook(t, svc, url.Values{
		"From":       {"whatsapp:+14155550100"},
		"Body":       {"синий экран"},
		"MessageSid": {"SM123"},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response>")

	select {
	case resp := <-svc.Responses():
		assert.Equal(t, "14155550100", resp.From)
		assert.Equal(t, "синий экран", resp.Body)
		assert.Equal(t, "SM123", resp.MessageID)
	default:
		t.Fatal("expected response to be emitted")
	}
}

func TestTwilioWebhook_MissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postWebhook(t, svc, url.Values{"From": {"whatsapp:+14155550100"}}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwilioWebhook_AfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	require.NoError(t, svc.Stop())
	rec := postWebhook(t, svc, url.Values{"From": {"+14155550100"}, "Body": {"hi"}}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// twilioSignature computes the webhook signature: HMAC-SHA1 over the URL
// followed by every sorted parameter name and value.
func twilioSignature(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioWebhook_Signature(t *testing.T) {
	const token = "secret-token"
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(),
		WithSignatureValidator(twiliowhatsapp.NewSignatureValidator(token)))
	form := url.Values{"From": {"whatsapp:+14155550100"}, "Body": {"raid"}, "MessageSid": {"SM1"}}

	rec := postWebhook(t, svc, form, "bogus")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postWebhook(t, svc, form, twilioSignature(token, "http://example.com/twilio/webhook", form))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	require.NoError(t, svc.SendMessage(context.Background(), "whatsapp:+14155550100", "ответ"))
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "14155550100", sent[0].To)
	assert.Equal(t, "ответ", sent[0].Body)
}
