package helpers

import (
	"encoding/json"
	"html/template"
	"net/http"

	x402 "github.com/bus402/x402-video-paylink"
)

// paywallTemplate is the interactive payment page served to browsers on
// their first unauthenticated hit. The requirement set is embedded as JSON
// for the wallet script to pick up.
var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Payment Required</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 36rem; margin: 4rem auto; padding: 0 1rem; }
code { background: #f2f2f2; padding: 0.1rem 0.3rem; border-radius: 3px; }
</style>
</head>
<body>
<h1>402 Payment Required</h1>
<p>This stream is pay-per-view. Connect a wallet to purchase access for
<code>{{.Amount}}</code> atomic units on <code>{{.Network}}</code>.</p>
<p id="paylink-status">Waiting for wallet…</p>
<script id="x402-requirements" type="application/json">{{.RequirementsJSON}}</script>
</body>
</html>
`))

type paywallData struct {
	Amount           string
	Network          string
	RequirementsJSON template.JS
}

// SendPaywall sends the HTML payment page embedding the requirement set.
func SendPaywall(w http.ResponseWriter, requirements []x402.PaymentRequirement) {
	body := x402.PaymentRequirementsResponse{
		X402Version: x402.ProtocolVersion,
		Error:       "payment required",
		Accepts:     requirements,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		SendPaymentRequired(w, "payment required", requirements)
		return
	}

	data := paywallData{RequirementsJSON: template.JS(encoded)}
	if len(requirements) > 0 {
		data.Amount = requirements[0].MaxAmountRequired
		data.Network = requirements[0].Network
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = paywallTemplate.Execute(w, data)
}
