package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/herald/pkg/webhooks"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func signedRequest(t *testing.T, secret string) *http.Request {
	t.Helper()

	payload := webhooks.NewPayload(webhooks.EventDataDeleted, "did:x", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), webhooks.RecordData{CompanyID: "acme"})
	body, err := webhooks.CanonicalJSON(payload)
	require.NoError(t, err)
	sig, err := webhooks.Sign(payload, secret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set(webhooks.HeaderSignature, sig)
	req.Header.Set(webhooks.HeaderEvent, string(payload.Event))
	return req
}

func TestReceiver(t *testing.T) {
	handler := newReceiver(&Config{Secret: "whsec", MaxBody: 1 << 20}, quietLogger())

	rec := httptest.NewRecorder()
	handler(rec, signedRequest(t, "whsec"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, signedRequest(t, "forged"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReceiver_NoSecretAcceptsUnsigned(t *testing.T) {
	handler := newReceiver(&Config{MaxBody: 1 << 20}, quietLogger())

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"event":"data_registered","data":{}}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
