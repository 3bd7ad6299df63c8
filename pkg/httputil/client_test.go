package httputil

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/matzehuels/apm/pkg/errors"
)

func TestNewClientSendsBearerToken(t *testing.T) {
	var gotAuth, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := NewClient(Options{Token: "s3cret", UserAgent: "apm/test"})
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer s3cret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotUA != "apm/test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestNewClientWithoutToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	resp, err := NewClient(Options{}).Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotAuth != "" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
}

func TestTokenLimitedToHosts(t *testing.T) {
	auth := make(map[string]string)
	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			auth[name] = r.Header.Get("Authorization")
		}
	}
	registry := httptest.NewServer(handler("registry"))
	defer registry.Close()
	cdn := httptest.NewServer(handler("cdn"))
	defer cdn.Close()

	regURL, _ := url.Parse(registry.URL)
	client := NewClient(Options{Token: "s3cret", TokenHosts: []string{regURL.Host}})
	for _, u := range []string{registry.URL, cdn.URL} {
		resp, err := client.Get(u)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	if auth["registry"] != "Bearer s3cret" {
		t.Errorf("registry Authorization = %q", auth["registry"])
	}
	if auth["cdn"] != "" {
		t.Errorf("token leaked to another host: %q", auth["cdn"])
	}
}

func TestTimeoutIsRetryable(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := NewClient(Options{Timeout: 20 * time.Millisecond})
	_, err := client.Get(server.URL)
	if err == nil {
		t.Fatal("expected timeout")
	}
	err = TransportError(server.URL, err)
	if !IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("code = %v, want TIMEOUT", errors.GetCode(err))
	}
}

func TestTransportErrorPassesCancellation(t *testing.T) {
	err := TransportError("http://x", context.Canceled)
	if !stderrors.Is(err, context.Canceled) || IsRetryable(err) {
		t.Errorf("cancellation should pass through, got %v", err)
	}
	if TransportError("http://x", nil) != nil {
		t.Error("nil should stay nil")
	}
	if err := TransportError("http://x", stderrors.New("connection refused")); !errors.Is(err, errors.ErrCodeNetwork) {
		t.Errorf("code = %v, want NETWORK_ERROR", errors.GetCode(err))
	}
}

func TestCheckStatus(t *testing.T) {
	u, _ := url.Parse("http://registry.test/bar")
	tests := []struct {
		code      int
		wantCode  errors.Code
		retryable bool
		notFound  bool
	}{
		{code: 200},
		{code: 304},
		{code: 404, notFound: true},
		{code: 401, wantCode: errors.ErrCodeUnauthorized},
		{code: 403, wantCode: errors.ErrCodeUnauthorized},
		{code: 429, wantCode: errors.ErrCodeRateLimited, retryable: true},
		{code: 500, wantCode: errors.ErrCodeHTTP, retryable: true},
		{code: 418, wantCode: errors.ErrCodeHTTP},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.code, Header: http.Header{}, Request: &http.Request{URL: u}}
			err := CheckStatus(resp)
			switch {
			case tt.notFound:
				if !stderrors.Is(err, ErrNotFound) {
					t.Errorf("err = %v, want ErrNotFound", err)
				}
			case tt.wantCode == "":
				if err != nil {
					t.Errorf("err = %v, want nil", err)
				}
			default:
				if !errors.Is(err, tt.wantCode) {
					t.Errorf("code = %v, want %v", errors.GetCode(err), tt.wantCode)
				}
				if IsRetryable(err) != tt.retryable {
					t.Errorf("retryable = %v, want %v", IsRetryable(err), tt.retryable)
				}
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should return nil")
	}
	base := stderrors.New("boom")
	err := Retryable(base)
	if !IsRetryable(err) || !stderrors.Is(err, base) {
		t.Error("Retryable should wrap and stay unwrappable")
	}
	if err.Error() != "boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if IsRetryable(base) {
		t.Error("plain errors are not retryable")
	}
}
