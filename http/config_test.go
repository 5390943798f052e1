package http

import (
	"net/http/httptest"
	"testing"
)

func TestDefaultScope(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			"manifest",
			"http://cdn.example.com/stream/abc.m3u8",
			"http://cdn.example.com/stream/abc*",
		},
		{
			"segment scopes to the same stream",
			"http://cdn.example.com/stream/abc/seg0.ts",
			"http://cdn.example.com/stream/abc*",
		},
		{
			"no extension",
			"http://cdn.example.com/stream/abc",
			"http://cdn.example.com/stream/abc*",
		},
		{
			"outside stream prefix",
			"http://cdn.example.com/downloads/file.bin",
			"http://cdn.example.com/downloads/file.bin",
		},
		{
			"bare stream prefix",
			"http://cdn.example.com/stream/",
			"http://cdn.example.com/stream/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			scope := DefaultScope(r)
			if len(scope) != 1 || scope[0] != tt.want {
				t.Errorf("DefaultScope = %v, want [%s]", scope, tt.want)
			}
		})
	}
}

func TestPaymentFromContext(t *testing.T) {
	r := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)

	if _, ok := PaymentFromContext(r.Context()); ok {
		t.Error("unadmitted request must carry no payment")
	}

	admitted := withPayment(r, Payment{Scheme: "receipt", Payer: "0xabc"})
	payment, ok := PaymentFromContext(admitted.Context())
	if !ok || payment.Scheme != "receipt" || payment.Payer != "0xabc" {
		t.Errorf("payment = %+v, ok = %v", payment, ok)
	}
}
