package integration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeStripe simulates the payment intent endpoints the stripe provider
// calls, tracking per-intent status in memory. Flipping down makes every
// endpoint answer 503, simulating a provider outage.
type fakeStripe struct {
	mu       sync.Mutex
	seq      int
	statuses map[string]string
	down     bool
	server   *httptest.Server
}

func newFakeStripe(t *testing.T) *fakeStripe {
	t.Helper()
	f := &fakeStripe{statuses: make(map[string]string)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeStripe) URL() string { return f.server.URL }

func (f *fakeStripe) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeStripe) setStatus(transactionID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[transactionID] = status
}

func (f *fakeStripe) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
		_ = r.ParseForm()
		f.seq++
		id := fmt.Sprintf("pi_test_%d", f.seq)
		f.statuses[id] = "requires_confirmation"
		fmt.Fprintf(w, `{"id":%q,"status":"requires_confirmation","client_secret":%q,"amount":%s,"currency":%q}`,
			id, id+"_secret", r.PostForm.Get("amount"), r.PostForm.Get("currency"))

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/payment_intents/") && strings.HasSuffix(r.URL.Path, "/confirm"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/payment_intents/"), "/confirm")
		if _, ok := f.statuses[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"No such payment_intent"}}`)
			return
		}
		f.statuses[id] = "succeeded"
		fmt.Fprintf(w, `{"id":%q,"status":"succeeded","amount":2599,"currency":"usd"}`, id)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payment_intents/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/payment_intents/")
		status, ok := f.statuses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"No such payment_intent"}}`)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"status":%q,"amount":2599,"currency":"usd"}`, id, status)

	case r.Method == http.MethodPost && r.URL.Path == "/v1/refunds":
		f.seq++
		fmt.Fprintf(w, `{"id":"re_test_%d","status":"succeeded"}`, f.seq)

	default:
		http.NotFound(w, r)
	}
}

// signStripePayload produces a signature header the stripe provider accepts.
func signStripePayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// fakeBkash simulates the tokenized checkout endpoints the bkash provider
// calls. Payments start Initiated; tests flip them to Completed to simulate
// the customer finishing on the provider side.
type fakeBkash struct {
	mu       sync.Mutex
	seq      int
	statuses map[string]string
	grants   int
	server   *httptest.Server
}

func newFakeBkash(t *testing.T) *fakeBkash {
	t.Helper()
	f := &fakeBkash{statuses: make(map[string]string)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBkash) URL() string { return f.server.URL }

func (f *fakeBkash) grantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants
}

func (f *fakeBkash) setStatus(transactionID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[transactionID] = status
}

func (f *fakeBkash) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodPost && r.URL.Path == "/checkout/token/grant" {
		f.grants++
		fmt.Fprint(w, `{"id_token":"test-grant-token","expires_in":3600,"statusCode":"0000"}`)
		return
	}

	// Everything past the grant requires the token.
	if r.Header.Get("Authorization") != "test-grant-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/checkout/payment/create":
		f.seq++
		id := fmt.Sprintf("TRX_TEST_%d", f.seq)
		f.statuses[id] = "Initiated"
		fmt.Fprintf(w, `{"paymentID":%q,"bkashURL":"https://sandbox.bkash.test/pay/%s","transactionStatus":"Initiated","statusCode":"0000"}`, id, id)

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/checkout/payment/execute/"):
		id := strings.TrimPrefix(r.URL.Path, "/checkout/payment/execute/")
		if _, ok := f.statuses[id]; !ok {
			fmt.Fprint(w, `{"statusCode":"2023","statusMessage":"Invalid payment ID"}`)
			return
		}
		f.statuses[id] = "Completed"
		fmt.Fprintf(w, `{"paymentID":%q,"trxID":"BK%s","transactionStatus":"Completed","amount":"25.99","currency":"BDT","statusCode":"0000"}`, id, id)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/checkout/payment/query/"):
		id := strings.TrimPrefix(r.URL.Path, "/checkout/payment/query/")
		status, ok := f.statuses[id]
		if !ok {
			fmt.Fprint(w, `{"statusCode":"2023","statusMessage":"Invalid payment ID"}`)
			return
		}
		fmt.Fprintf(w, `{"paymentID":%q,"transactionStatus":%q,"amount":"25.99","currency":"BDT","statusCode":"0000"}`, id, status)

	case r.Method == http.MethodPost && r.URL.Path == "/checkout/payment/refund":
		f.seq++
		fmt.Fprintf(w, `{"refundTrxID":"RF_TEST_%d","transactionStatus":"Completed","statusCode":"0000"}`, f.seq)

	default:
		http.NotFound(w, r)
	}
}
