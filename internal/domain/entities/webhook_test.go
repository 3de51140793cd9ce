package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookEventEnvelopeTxDetected(t *testing.T) {
	ev := NewTxDetected("inv-1", "0xhash", "1", "ETH")
	raw, err := ev.Envelope()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "tx_detected", decoded["event_type"])

	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, "inv-1", data["invoice_id"])
	assert.Equal(t, "0xhash", data["tx_hash"])
	assert.Equal(t, "1", data["amount"])
	assert.Equal(t, "ETH", data["currency"])
}

func TestWebhookEventEnvelopeInvoicePaid(t *testing.T) {
	ev := NewInvoicePaid("inv-1", "2.5")
	raw, err := ev.Envelope()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "invoice_paid", decoded["event_type"])
	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, "2.5", data["paid_amount"])
}

func TestWebhookEventEnvelopeInvoiceExpired(t *testing.T) {
	ev := NewInvoiceExpired("inv-1")
	raw, err := ev.Envelope()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "invoice_expired", decoded["event_type"])
	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, "inv-1", data["invoice_id"])
}

func TestWebhookJobRoundTripsEventThroughPayload(t *testing.T) {
	ev := NewTxConfirmed("inv-1", "0xhash", 6)
	job, err := NewWebhookJob("job-1", "inv-1", ev, time.Now())
	require.NoError(t, err)

	decoded, err := job.DecodeEvent()
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}
